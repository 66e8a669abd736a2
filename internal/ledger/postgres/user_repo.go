package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/domain/model"
	"github.com/anaetoproject-debug/hostinger-jetswap-domain/internal/ledger"
)

// UserRepo persists synced identity profiles.
type UserRepo struct {
	db *DB
}

func NewUserRepo(db *DB) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) UpsertProfile(ctx context.Context, profile *model.UserProfile) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, method, identifier, name, role, last_seen_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (id) DO UPDATE SET
			method = EXCLUDED.method,
			identifier = EXCLUDED.identifier,
			name = EXCLUDED.name,
			role = EXCLUDED.role,
			last_seen_at = now(),
			updated_at = now()
	`, profile.ID, profile.Method, profile.Identifier, profile.Name, profile.Role)
	if err != nil {
		return classify(fmt.Errorf("upsert profile: %w", err))
	}
	return nil
}

func (r *UserRepo) GetProfile(ctx context.Context, id string) (*model.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	var p model.UserProfile
	err := r.db.QueryRowContext(ctx, `
		SELECT id, method, identifier, name, role, last_seen_at, updated_at
		FROM users WHERE id = $1
	`, id).Scan(&p.ID, &p.Method, &p.Identifier, &p.Name, &p.Role, &p.LastSeenAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrNotFound
		}
		return nil, classify(fmt.Errorf("get profile: %w", err))
	}
	return &p, nil
}

func (r *UserRepo) ListProfiles(ctx context.Context, limit int) ([]model.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, method, identifier, name, role, last_seen_at, updated_at
		FROM users ORDER BY last_seen_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("list profiles: %w", err))
	}
	defer rows.Close()

	var profiles []model.UserProfile
	for rows.Next() {
		var p model.UserProfile
		if err := rows.Scan(&p.ID, &p.Method, &p.Identifier, &p.Name, &p.Role, &p.LastSeenAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

func (r *UserRepo) SetRole(ctx context.Context, id string, role model.Role) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultQueryTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET role = $2, updated_at = now() WHERE id = $1`, id, role)
	if err != nil {
		return classify(fmt.Errorf("set role: %w", err))
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set role rows: %w", err)
	}
	if affected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
