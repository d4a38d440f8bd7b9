package audit

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChainHead is the latest entry position in an organization's chain.
type ChainHead struct {
	Seq  int64
	Hash string
}

// Repository persists the audit chain.
type Repository interface {
	// Append runs build under a per-org critical section so previous_hash
	// assignment is serialized, then inserts the built entry.
	Append(ctx context.Context, orgID int64, build func(head ChainHead) Entry) (Entry, error)
	// WalkChain streams the chain in sequence order in bounded pages.
	WalkChain(ctx context.Context, orgID int64, fromSeq int64, limit int) ([]Entry, error)
	// ListSealCandidates returns unsealed entries older than the cutoff.
	ListSealCandidates(ctx context.Context, olderThan time.Time, limit int) ([]Entry, error)
	// MarkSealed flips is_immutable, skipping rows already sealed.
	MarkSealed(ctx context.Context, id int64) (bool, error)
}

type repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &repository{db: db}
}

const entryColumns = `id, org_id, seq, actor_id, action, entity, entity_id, changes, content_hash, previous_hash, is_immutable, at`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.OrgID, &e.Seq, &e.ActorID, &e.Action, &e.Entity, &e.EntityID, &e.Changes, &e.ContentHash, &e.PreviousHash, &e.IsImmutable, &e.At)
	return e, err
}

// advisoryKeyspace separates audit chain locks from any other advisory users.
const advisoryKeyspace = 0x41554454 // "AUDT"

// AppendTx runs build under the per-org advisory lock and inserts the entry
// on the caller's transaction, so the chain write commits or rolls back
// together with the mutation it describes.
func AppendTx(ctx context.Context, tx pgx.Tx, orgID int64, build func(head ChainHead) Entry) (Entry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, advisoryKeyspace, orgID); err != nil {
		return Entry{}, err
	}
	var head ChainHead
	err := tx.QueryRow(ctx, `SELECT seq, content_hash FROM audit_entries WHERE org_id=$1 ORDER BY seq DESC LIMIT 1`, orgID).
		Scan(&head.Seq, &head.Hash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, err
	}
	entry := build(head)
	return scanEntry(tx.QueryRow(ctx, `INSERT INTO audit_entries (org_id, seq, actor_id, action, entity, entity_id, changes, content_hash, previous_hash, is_immutable, at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,false,$10) RETURNING `+entryColumns,
		entry.OrgID, entry.Seq, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, entry.Changes, entry.ContentHash, entry.PreviousHash, entry.At))
}

func (r *repository) Append(ctx context.Context, orgID int64, build func(head ChainHead) Entry) (Entry, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Entry{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	inserted, err := AppendTx(ctx, tx, orgID, build)
	if err != nil {
		return Entry{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Entry{}, err
	}
	return inserted, nil
}

func (r *repository) WalkChain(ctx context.Context, orgID int64, fromSeq int64, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE org_id=$1 AND seq > $2 ORDER BY seq ASC LIMIT $3`, orgID, fromSeq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *repository) ListSealCandidates(ctx context.Context, olderThan time.Time, limit int) ([]Entry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM audit_entries WHERE is_immutable=false AND at < $1 ORDER BY org_id, seq ASC LIMIT $2`, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkSealed is idempotent: sealing an already-sealed row reports false
// without touching it, which lets interrupted seal batches resume.
func (r *repository) MarkSealed(ctx context.Context, id int64) (bool, error) {
	cmd, err := r.db.Exec(ctx, `UPDATE audit_entries SET is_immutable=true WHERE id=$1 AND is_immutable=false`, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
