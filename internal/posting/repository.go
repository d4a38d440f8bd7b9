package posting

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-erp/internal/accounts"
	"github.com/meridian-erp/meridian-erp/internal/audit"
	"github.com/meridian-erp/meridian-erp/internal/documents"
	"github.com/meridian-erp/meridian-erp/internal/periods"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Repository encapsulates the posting transaction. Posting spans documents,
// accounts, periods and the ledger, so the tx repository exposes the reads
// and writes of all four; duplicating narrow queries here keeps each write
// inside one transaction.
type Repository interface {
	GetDocument(ctx context.Context, orgID, documentID int64) (documents.Document, error)
	ListPostableIDs(ctx context.Context, orgID, afterID int64, limit int) ([]int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes methods available within the posting transaction. It
// doubles as an audit.Appender so the summarizing audit entries commit
// atomically with the ledger rows.
type TxRepository interface {
	documents.StateWriter
	audit.Appender

	GetDocumentForUpdate(ctx context.Context, orgID, documentID int64) (documents.Document, error)
	GetPeriod(ctx context.Context, orgID, periodID int64) (periods.Period, error)
	GetAccountsForUpdate(ctx context.Context, orgID int64, ids []int64) (map[int64]accounts.Account, error)
	ListLedgerEntriesByDocument(ctx context.Context, orgID, documentID int64) ([]LedgerEntry, error)
	InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error)
	UpdateAccountBalance(ctx context.Context, orgID, accountID int64, balance decimal.Decimal, expectedVersion int64) error
	InsertDocument(ctx context.Context, in documents.CreateInput, state documents.DocumentState) (documents.Document, error)
	InsertLines(ctx context.Context, documentID int64, lines []documents.LineInput) ([]documents.Line, error)
	LinkReversal(ctx context.Context, orgID, originalID, reversalID int64) error
}

// errDuplicateLine surfaces the unique constraint on ledger_entries.line_id.
var errDuplicateLine = errors.New("posting: ledger entry already exists for line")

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const documentColumns = `id, org_id, number, doc_type, period_id, date, currency, exchange_rate, memo, state, version, reversal_of_id, reversed_by_id, created_by, created_at, updated_at`

func scanDocument(row pgx.Row) (documents.Document, error) {
	var d documents.Document
	err := row.Scan(&d.ID, &d.OrgID, &d.Number, &d.Type, &d.PeriodID, &d.Date, &d.Currency, &d.ExchangeRate, &d.Memo, &d.State, &d.Version, &d.ReversalOfID, &d.ReversedByID, &d.CreatedBy, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return documents.Document{}, documents.ErrDocumentNotFound
		}
		return documents.Document{}, err
	}
	return d, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadLines(ctx context.Context, q queryer, documentID int64) ([]documents.Line, error) {
	rows, err := q.Query(ctx, `SELECT id, document_id, position, account_id, debit, credit, dim_department, dim_project, dim_cost_center
FROM document_lines WHERE document_id=$1 ORDER BY position ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []documents.Line
	for rows.Next() {
		var line documents.Line
		if err := rows.Scan(&line.ID, &line.DocumentID, &line.Position, &line.AccountID, &line.Debit, &line.Credit, &line.DimDepartment, &line.DimProject, &line.DimCostCenter); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *repository) GetDocument(ctx context.Context, orgID, documentID int64) (documents.Document, error) {
	doc, err := scanDocument(r.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id=$1 AND id=$2`, orgID, documentID))
	if err != nil {
		return documents.Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.db, documentID)
	if err != nil {
		return documents.Document{}, err
	}
	return doc, nil
}

func (r *repository) ListPostableIDs(ctx context.Context, orgID, afterID int64, limit int) ([]int64, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM documents WHERE org_id=$1 AND id>$2 AND state=$3 ORDER BY id LIMIT $4`,
		orgID, afterID, documents.StateApproved, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
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

func (r *txRepository) GetDocumentForUpdate(ctx context.Context, orgID, documentID int64) (documents.Document, error) {
	doc, err := scanDocument(r.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE org_id=$1 AND id=$2 FOR UPDATE`, orgID, documentID))
	if err != nil {
		return documents.Document{}, err
	}
	doc.Lines, err = loadLines(ctx, r.tx, documentID)
	if err != nil {
		return documents.Document{}, err
	}
	return doc, nil
}

func (r *txRepository) GetPeriod(ctx context.Context, orgID, periodID int64) (periods.Period, error) {
	var p periods.Period
	err := r.tx.QueryRow(ctx, `SELECT id, org_id, code, start_date, end_date, status, closed_at, closed_by, created_at, updated_at
FROM periods WHERE org_id=$1 AND id=$2`, orgID, periodID).
		Scan(&p.ID, &p.OrgID, &p.Code, &p.StartDate, &p.EndDate, &p.Status, &p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return periods.Period{}, periods.ErrPeriodNotFound
		}
		return periods.Period{}, err
	}
	return p, nil
}

// GetAccountsForUpdate locks account rows in ascending id order, matching the
// redis lock acquisition order.
func (r *txRepository) GetAccountsForUpdate(ctx context.Context, orgID int64, ids []int64) (map[int64]accounts.Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, org_id, code, name, nature, balance, version, is_active, recommended_dims, created_at, updated_at
FROM accounts WHERE org_id=$1 AND id = ANY($2) ORDER BY id FOR UPDATE`, orgID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]accounts.Account, len(ids))
	for rows.Next() {
		var a accounts.Account
		if err := rows.Scan(&a.ID, &a.OrgID, &a.Code, &a.Name, &a.Nature, &a.Balance, &a.Version, &a.IsActive, &a.RecommendedDims, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out[a.ID] = a
	}
	return out, rows.Err()
}

const ledgerColumns = `id, org_id, account_id, document_id, line_id, period_id, date, debit, credit, balance_after, currency, exchange_rate, functional_debit, functional_credit, seq, posted_by, posted_at`

func scanLedgerEntry(row pgx.Row) (LedgerEntry, error) {
	var e LedgerEntry
	err := row.Scan(&e.ID, &e.OrgID, &e.AccountID, &e.DocumentID, &e.LineID, &e.PeriodID, &e.Date, &e.Debit, &e.Credit, &e.BalanceAfter, &e.Currency, &e.ExchangeRate, &e.FunctionalDebit, &e.FunctionalCredit, &e.Seq, &e.PostedBy, &e.PostedAt)
	return e, err
}

func (r *txRepository) ListLedgerEntriesByDocument(ctx context.Context, orgID, documentID int64) ([]LedgerEntry, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE org_id=$1 AND document_id=$2 ORDER BY id ASC`, orgID, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []LedgerEntry
	for rows.Next() {
		entry, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// InsertLedgerEntry writes one immutable row. The per-account sequence is
// assigned here; the caller holds both the redis account lock and the
// account row lock, so MAX(seq)+1 cannot race.
func (r *txRepository) InsertLedgerEntry(ctx context.Context, entry LedgerEntry) (LedgerEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (org_id, account_id, document_id, line_id, period_id, date, debit, credit, balance_after, currency, exchange_rate, functional_debit, functional_credit, seq, posted_by, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,
	COALESCE((SELECT MAX(seq) FROM ledger_entries WHERE org_id=$1 AND account_id=$2), 0) + 1,
	$14, NOW()) RETURNING `+ledgerColumns,
		entry.OrgID, entry.AccountID, entry.DocumentID, entry.LineID, entry.PeriodID, entry.Date,
		entry.Debit, entry.Credit, entry.BalanceAfter, entry.Currency, entry.ExchangeRate,
		entry.FunctionalDebit, entry.FunctionalCredit, entry.PostedBy)
	inserted, err := scanLedgerEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return LedgerEntry{}, errDuplicateLine
		}
		return LedgerEntry{}, err
	}
	return inserted, nil
}

// UpdateAccountBalance performs the compare-and-swap balance write.
func (r *txRepository) UpdateAccountBalance(ctx context.Context, orgID, accountID int64, balance decimal.Decimal, expectedVersion int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance=$3, version=version+1, updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND version=$4`, orgID, accountID, balance, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrOptimisticLockConflict
	}
	return nil
}

func (r *txRepository) UpdateDocumentState(ctx context.Context, orgID, documentID int64, from, to documents.DocumentState, expectedVersion int64) (int64, error) {
	var newVersion int64
	err := r.tx.QueryRow(ctx, `UPDATE documents SET state=$5, version=version+1, updated_at=NOW()
WHERE org_id=$1 AND id=$2 AND state=$3 AND version=$4 RETURNING version`,
		orgID, documentID, from, expectedVersion, to).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrOptimisticLockConflict
		}
		return 0, err
	}
	return newVersion, nil
}

func (r *txRepository) InsertDocument(ctx context.Context, in documents.CreateInput, state documents.DocumentState) (documents.Document, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO documents (org_id, doc_type, period_id, date, currency, exchange_rate, memo, state, version, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,1,$9) RETURNING `+documentColumns,
		in.OrgID, in.Type, in.PeriodID, in.Date, in.Currency, in.ExchangeRate, in.Memo, state, in.CreatedBy)
	return scanDocument(row)
}

func (r *txRepository) InsertLines(ctx context.Context, documentID int64, lines []documents.LineInput) ([]documents.Line, error) {
	out := make([]documents.Line, 0, len(lines))
	for idx, line := range lines {
		var inserted documents.Line
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

func (r *txRepository) LinkReversal(ctx context.Context, orgID, originalID, reversalID int64) error {
	if _, err := r.tx.Exec(ctx, `UPDATE documents SET reversed_by_id=$3, updated_at=NOW() WHERE org_id=$1 AND id=$2`, orgID, originalID, reversalID); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `UPDATE documents SET reversal_of_id=$2, updated_at=NOW() WHERE org_id=$1 AND id=$3`, orgID, originalID, reversalID)
	return err
}
