package ledger

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// TxStore exposes ledger writes inside a pipeline transaction. Both
// operations are idempotent by entry key: replaying a posting replaces the
// prior entry instead of duplicating it.
type TxStore interface {
	UpsertEntry(ctx context.Context, entry Entry) error
	RemoveEntry(ctx context.Context, key Key) error
}

// NewTxStore wraps a pgx transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) UpsertEntry(ctx context.Context, entry Entry) error {
	_, err := s.tx.Exec(ctx, `INSERT INTO ledger_entries (party_id, kind, ref_kind, ref_id, debit, narration, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,COALESCE($7, NOW()))
ON CONFLICT (party_id, kind, ref_kind, ref_id)
DO UPDATE SET debit=EXCLUDED.debit, narration=EXCLUDED.narration, posted_at=EXCLUDED.posted_at`,
		entry.Key.PartyID, string(entry.Key.Kind), string(entry.Key.RefKind), entry.Key.RefID,
		entry.Debit, entry.Narration, nullTime(entry.PostedAt))
	return err
}

func (s *txStore) RemoveEntry(ctx context.Context, key Key) error {
	_, err := s.tx.Exec(ctx, `DELETE FROM ledger_entries WHERE party_id=$1 AND kind=$2 AND ref_kind=$3 AND ref_id=$4`,
		key.PartyID, string(key.Kind), string(key.RefKind), key.RefID)
	return err
}

// Repository serves ledger reads outside of pipeline transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListByParty returns entries for one party, newest first.
func (r *Repository) ListByParty(ctx context.Context, partyID int64) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, party_id, kind, ref_kind, ref_id, debit, narration, posted_at
FROM ledger_entries WHERE party_id=$1 ORDER BY posted_at DESC, id DESC`, partyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Key.PartyID, &e.Key.Kind, &e.Key.RefKind, &e.Key.RefID, &e.Debit, &e.Narration, &e.PostedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
