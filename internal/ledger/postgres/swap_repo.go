package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
)

// SwapRepo is the postgres-backed swap record store.
type SwapRepo struct {
	db *DB
}

func NewSwapRepo(db *DB) *SwapRepo {
	return &SwapRepo{db: db}
}

const swapColumns = `id, user_id, source_chain, dest_chain, token, amount, status, bundle, locator, created_at, updated_at`

// Create inserts the record. Retried creates hit the id conflict and
// return the existing locator, so the operation is idempotent.
func (r *SwapRepo) Create(ctx context.Context, record *model.SwapRecord) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	bundle, err := json.Marshal(record.Bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}
	locator := fmt.Sprintf("users/%s/swaps/%s", record.UserID, record.ID)

	var stored string
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO swaps (id, user_id, source_chain, dest_chain, token, amount, status, bundle, locator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			id = swaps.id
		RETURNING locator
	`, record.ID, record.UserID, record.Route.SourceChain, record.Route.DestChain,
		record.Token, record.Amount, record.Status, bundle, locator,
	).Scan(&stored)
	if err != nil {
		return "", classify(fmt.Errorf("create swap: %w", err))
	}
	return stored, nil
}

func (r *SwapRepo) Get(ctx context.Context, id uuid.UUID) (*model.SwapRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	row := r.db.QueryRowContext(ctx,
		`SELECT `+swapColumns+` FROM swaps WHERE id = $1`, id)
	record, err := scanSwap(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, classify(fmt.Errorf("get swap: %w", err))
	}
	return record, nil
}

func (r *SwapRepo) List(ctx context.Context, userID string, limit int) ([]model.SwapRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+swapColumns+` FROM swaps WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("list swaps: %w", err))
	}
	defer rows.Close()
	return collectSwaps(rows)
}

func (r *SwapRepo) ListAll(ctx context.Context, limit int) ([]model.SwapRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+swapColumns+` FROM swaps ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("list all swaps: %w", err))
	}
	defer rows.Close()
	return collectSwaps(rows)
}

// UpdateStatus writes a new status but never touches terminal rows;
// the WHERE clause is the database-side half of the terminal-state
// invariant.
func (r *SwapRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status model.SwapStatus) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE swaps SET status = $2, updated_at = now()
		WHERE id = $1 AND status NOT IN ('SETTLED_SUCCESS', 'FLAGGED', 'FAILED')
	`, id, status)
	if err != nil {
		return classify(fmt.Errorf("update swap status: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update swap status rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM swaps WHERE id = $1)", id).Scan(&exists); err != nil {
			return classify(fmt.Errorf("check swap exists: %w", err))
		}
		if !exists {
			return ledger.ErrNotFound
		}
		return ledger.ErrTerminalStatus
	}
	return nil
}

// Override applies an admin status change and its audit entry in one
// transaction so the audit trail can never miss an override. The
// update is state-guarded: concurrent overrides race on the WHERE
// clause and the loser sees ErrTerminalStatus with nothing written.
func (r *SwapRepo) Override(ctx context.Context, id uuid.UUID, status model.SwapStatus, entry model.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("begin override: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE swaps SET status = $2, updated_at = now()
		WHERE id = $1 AND status != $2
		  AND (status = 'FLAGGED' OR status NOT IN ('SETTLED_SUCCESS', 'FAILED'))
	`, id, status)
	if err != nil {
		return classify(fmt.Errorf("override swap status: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("override rows: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM swaps WHERE id = $1)", id).Scan(&exists); err != nil {
			return classify(fmt.Errorf("check swap exists: %w", err))
		}
		if !exists {
			return ledger.ErrNotFound
		}
		return ledger.ErrTerminalStatus
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO swap_audit (id, swap_id, actor_id, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.SwapID, entry.ActorID, entry.FromStatus, entry.ToStatus, entry.Reason, entry.At); err != nil {
		return classify(fmt.Errorf("append audit: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("commit override: %w", err))
	}
	return nil
}

func (r *SwapRepo) ListAudit(ctx context.Context, swapID uuid.UUID) ([]model.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, swap_id, actor_id, from_status, to_status, reason, at
		FROM swap_audit WHERE swap_id = $1 ORDER BY at ASC
	`, swapID)
	if err != nil {
		return nil, classify(fmt.Errorf("list audit: %w", err))
	}
	defer rows.Close()

	var entries []model.AuditEntry
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.ID, &e.SwapID, &e.ActorID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.At); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSwap(row rowScanner) (*model.SwapRecord, error) {
	var (
		record model.SwapRecord
		bundle []byte
	)
	if err := row.Scan(
		&record.ID, &record.UserID, &record.Route.SourceChain, &record.Route.DestChain,
		&record.Token, &record.Amount, &record.Status, &bundle, &record.Locator,
		&record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(bundle) > 0 {
		if err := json.Unmarshal(bundle, &record.Bundle); err != nil {
			return nil, fmt.Errorf("unmarshal bundle: %w", err)
		}
	}
	amount, err := normalizeAmount(record.Amount)
	if err != nil {
		return nil, err
	}
	record.Amount = amount
	return &record, nil
}

// normalizeAmount strips the scale padding numeric columns can add so
// an amount reads back exactly as it was submitted.
func normalizeAmount(s string) (string, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", fmt.Errorf("parse amount %q: %w", s, err)
	}
	return d.String(), nil
}

func collectSwaps(rows *sql.Rows) ([]model.SwapRecord, error) {
	var records []model.SwapRecord
	for rows.Next() {
		record, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// classify maps permission failures onto the ledger taxonomy; other
// errors pass through for the retry layer's SQLSTATE classification.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42501" { // insufficient_privilege
		return fmt.Errorf("%w: %v", ledger.ErrPermissionDenied, err)
	}
	return err
}
