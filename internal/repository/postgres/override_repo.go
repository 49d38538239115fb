package postgres

/*
Файл override_repo.go — персистентный слой Override Store.
Инвариант "не более одного активного оверрайда на пару (org_id, path)"
обеспечивается частичным уникальным индексом и upsert'ом по нему:
конкурентные писатели сходятся в одну строку, а не плодят дубли.
История не удаляется: отзыв и вытеснение только снимают флаг active,
строки остаются для аудита.
*/

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/capgate/internal/domain"
)

type OverrideRepo struct {
	pool *pgxpool.Pool
}

func NewOverrideRepo(pool *pgxpool.Pool) *OverrideRepo {
	return &OverrideRepo{pool: pool}
}

// Ping проверяет доступность базы при старте
func (r *OverrideRepo) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const overrideColumns = `id, org_id, path, enabled, reason, set_by, expires_at, created_at, updated_at`

func scanOverride(row pgx.Row) (*domain.Override, error) {
	var (
		o       domain.Override
		rawPath string
		reason  *string
		setBy   *string
	)
	err := row.Scan(&o.ID, &o.OrgID, &rawPath, &o.Enabled, &reason, &setBy,
		&o.ExpiresAt, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}

	path, err := domain.ParseCapabilityPath(rawPath)
	if err != nil {
		return nil, fmt.Errorf("postgres: corrupt capability path %q: %w", rawPath, err)
	}
	o.Path = path
	if reason != nil {
		o.Reason = *reason
	}
	if setBy != nil {
		o.SetBy = *setBy
	}
	return &o, nil
}

// GetDecision возвращает лучший активный оверрайд пары (org, path):
// персональный оверрайд тенанта приоритетнее глобального.
// Для orgID = nil сравнение org_id = NULL дает NULL и отсекает чужие строки —
// остаются только глобальные.
func (r *OverrideRepo) GetDecision(ctx context.Context, path domain.CapabilityPath, orgID *string) (*domain.Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM capability_overrides
		WHERE path = $1 AND active
		  AND (expires_at IS NULL OR expires_at > now())
		  AND (org_id IS NULL OR org_id = $2)
		ORDER BY (org_id IS NOT NULL) DESC -- Сначала персональный оверрайд тенанта
		LIMIT 1`

	o, err := scanOverride(r.pool.QueryRow(ctx, query, path.String(), orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get decision: %w", err)
	}
	return o, nil
}

// ListActive — все действующие оверрайды (холодная загрузка и Init контроллера).
func (r *OverrideRepo) ListActive(ctx context.Context) ([]domain.Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM capability_overrides
		WHERE active AND (expires_at IS NULL OR expires_at > now())
		ORDER BY path, org_id NULLS FIRST`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list active overrides: %w", err)
	}
	defer rows.Close()

	var out []domain.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list active overrides: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// ListHistory — вся история, включая отозванные и истекшие строки (аудит).
func (r *OverrideRepo) ListHistory(ctx context.Context, limit, offset int) ([]domain.Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM capability_overrides
		ORDER BY updated_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("postgres: list override history: %w", err)
	}
	defer rows.Close()

	var out []domain.Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: list override history: %w", err)
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

// Upsert создает или обновляет активный оверрайд пары (org, path).
// Два шага в одной транзакции: сначала демоция натурально истекшей строки
// (она больше не active, но остается в истории), затем upsert по частичному
// уникальному индексу. Повторный вызов с теми же параметрами идемпотентен.
func (r *OverrideRepo) Upsert(ctx context.Context, in domain.OverrideInput, setBy string) (*domain.Override, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: upsert override: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		UPDATE capability_overrides
		SET active = FALSE
		WHERE path = $1 AND COALESCE(org_id, '') = COALESCE($2, '')
		  AND active AND expires_at IS NOT NULL AND expires_at <= now()`,
		in.Path.String(), in.OrgID)
	if err != nil {
		return nil, fmt.Errorf("postgres: demote expired override: %w", err)
	}

	query := `
		INSERT INTO capability_overrides (id, org_id, path, enabled, reason, set_by, expires_at, active)
		VALUES (gen_random_uuid(), $1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, TRUE)
		ON CONFLICT (path, COALESCE(org_id, '')) WHERE active
		DO UPDATE SET
			enabled = EXCLUDED.enabled,
			reason = EXCLUDED.reason,
			set_by = EXCLUDED.set_by,
			expires_at = EXCLUDED.expires_at,
			updated_at = now()
		RETURNING ` + overrideColumns

	o, err := scanOverride(tx.QueryRow(ctx, query,
		in.OrgID, in.Path.String(), in.Enabled, in.Reason, setBy, in.ExpiresAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrOverrideConflict
		}
		return nil, fmt.Errorf("postgres: upsert override: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: upsert override: %w", err)
	}
	return o, nil
}

// Revoke отзывает активный оверрайд: строка получает expires_at = now()
// и active = FALSE, но остается в таблице для истории.
func (r *OverrideRepo) Revoke(ctx context.Context, path domain.CapabilityPath, orgID *string) (bool, error) {
	query := `
		UPDATE capability_overrides
		SET active = FALSE, expires_at = now(), updated_at = now()
		WHERE path = $1 AND COALESCE(org_id, '') = COALESCE($2, '')
		  AND active AND (expires_at IS NULL OR expires_at > now())`

	ct, err := r.pool.Exec(ctx, query, path.String(), orgID)
	if err != nil {
		return false, fmt.Errorf("postgres: revoke override: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// PurgeOlderThan чистит строки истории старше горизонта хранения.
// Активные записи не трогаются никогда.
func (r *OverrideRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	ct, err := r.pool.Exec(ctx, `
		DELETE FROM capability_overrides
		WHERE NOT active AND updated_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge overrides: %w", err)
	}
	return ct.RowsAffected(), nil
}
