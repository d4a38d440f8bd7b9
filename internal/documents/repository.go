package documents

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository encapsulates DB operations for documents.
type Repository interface {
	Get(ctx context.Context, orgID, documentID int64) (Document, error)
	List(ctx context.Context, orgID int64) ([]Document, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within a transaction. It doubles as
// an audit.Appender so chain entries commit with the document mutation.
type TxRepository interface {
	audit.Appender

	GetDocumentForUpdate(ctx context.Context, orgID, documentID int64) (Document, error)
	InsertDocument(ctx context.Context, in CreateInput, state DocumentState) (Document, error)
	ReplaceLines(ctx context.Context, documentID int64, lines []LineInput) ([]Line, error)
	UpdateDraftHeader(ctx context.Context, in UpdateInput) (Document, error)
	UpdateDocumentState(ctx context.Context, orgID, documentID int64, from, to DocumentState, expectedVersion int64) (int64, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const documentColumns = `id, org_id, number, doc_type, period_id, date, currency, exchange_rate, memo, state, version, reversal_of_id, reversed_by_id, created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (Document, error) {
	var d Document
	err := row.Scan(&d.ID, &d.OrgID, &d.Number, &d.Type, &d.PeriodID, &d.Date, &d.Currency, &d.ExchangeRate, &d.Memo, &d.State, &d.Version, &d.ReversalOfID, &d.ReversedByID, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrDocumentNotFound
		}
		return Document{}, err
	}
	return d, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, documentID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, document_id, position, account_id, debit, credit, dim_department, dim_project, dim_cost_center
FROM document_lines WHERE document_id=$1 ORDER BY position ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.Position, &line.AccountID, &line.Debit, &line.Credit, &line.DimDepartment, &line.DimProject, &line.DimCostCenter); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *repository) Get(ctx context.Context, orgID, documentID int64) (Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id=$1 AND id=$2`, orgID, documentID))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.db, documentID)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *repository) List(ctx context.Context, orgID int64) ([]Document, error) {
	rows, err := r.db.Query(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id=$1 ORDER BY number DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

type txRepository struct {
	tx pgx.Tx
}

func (r *txRepository) Append(ctx context.Context, orgID int64, build func(head audit.ChainHead) audit.Entry) (audit.Entry, error) {
	return audit.AppendTx(ctx, r.tx, orgID, build)
}

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, orgID, documentID int64) (Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, documentID))
	if err != nil {
		return Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.tx, documentID)
	if err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (r *txRepository) InsertDocument(ctx context.Context, in CreateInput, state DocumentState) (Document, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO documents (org_id, doc_type, period_id, date, currency, exchange_rate, memo, state, version, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9) RETURNING `+documentColumns,
		in.OrgID, in.Type, in.PeriodID, in.Date, in.Currency, in.ExchangeRate, in.Memo, state, in.CreatedBy)
	return scanDocument(row)
}

func (r *txRepository) ReplaceLines(ctx context.Context, documentID int64, lines []LineInput) ([]Line, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM document_lines WHERE document_id=$1`, documentID); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for idx, line := range lines {
		var inserted Line
		err := r.tx.QueryRow(ctx, `INSERT INTO document_lines (document_id, position, account_id, debit, credit, dim_department, dim_project, dim_cost_center)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, document_id, position, account_id, debit, credit, dim_department, dim_project, dim_cost_center`,
			documentID, idx, line.AccountID, line.Debit, line.Credit, line.DimDepartment, line.DimProject, line.DimCostCenter).
			Scan(&inserted.ID, &inserted.DocumentID, &inserted.Position, &inserted.AccountID, &inserted.Debit, &inserted.Credit, &inserted.DimDepartment, &inserted.DimProject, &inserted.DimCostCenter)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	return out, nil
}

func (r *txRepository) UpdateDraftHeader(ctx context.Context, in UpdateInput) (Document, error) {
	row := r.tx.QueryRow(ctx, `UPDATE documents SET period_id=$4, date=$5, currency=$6, exchange_rate=$7, memo=$8, version=version+1, updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND version=$3 AND state='DRAFT' RETURNING `+documentColumns,
		in.OrgID, in.DocumentID, in.ObservedVersion, in.PeriodID, in.Date, in.Currency, in.ExchangeRate, in.Memo)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, ErrDocumentNotFound) {
			return Document{}, ErrVersionConflict
		}
		return Document{}, err
	}
	return doc, nil
}

// UpdateDocumentState performs the compare-and-swap state write. Zero rows
// affected means either the state moved or the version advanced underneath
// the caller.
func (r *txRepository) UpdateDocumentState(ctx context.Context, orgID, documentID int64, from, to DocumentState, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := r.tx.QueryRow(ctx, `UPDATE documents SET state=$5, version=version+1, updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND state=$3 AND version=$4 RETURNING version`,
		orgID, documentID, from, expectedVersion, to).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrVersionConflict
		}
		return 0, err
	}
	return newVersion, nil
}
