package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/capgate/internal/domain"
)

type OperatorRepo struct {
	pool *pgxpool.Pool
}

func NewOperatorRepo(pool *pgxpool.Pool) *OperatorRepo {
	return &OperatorRepo{pool: pool}
}

func (r *OperatorRepo) GetOperatorByUsername(ctx context.Context, username string) (*domain.Operator, error) {
	query := `
		SELECT id, email, username, password_hash, role, scopes, created_at, updated_at
		FROM operators WHERE username = $1`

	op := &domain.Operator{}
	err := r.pool.QueryRow(ctx, query, username).Scan(
		&op.ID, &op.Email, &op.Username, &op.PasswordHash, &op.Role, &op.Scopes, &op.CreatedAt, &op.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get operator: %w", err)
	}
	return op, nil
}
