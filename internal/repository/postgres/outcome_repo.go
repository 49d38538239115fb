package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/xela07ax/capgate/internal/journal"
)

// OutcomeRepo хранит журнал исходов интеграционных вызовов.
// Пишется только пачками из journal.Journal; читается консолью для
// картины деградации "что было с интеграцией за последние N минут".
type OutcomeRepo struct {
	pool *pgxpool.Pool
}

func NewOutcomeRepo(pool *pgxpool.Pool) *OutcomeRepo {
	return &OutcomeRepo{pool: pool}
}

// WriteBatch сохраняет пачку событий одним INSERT.
func (r *OutcomeRepo) WriteBatch(ctx context.Context, events []journal.OutcomeEvent) error {
	if len(events) == 0 {
		return nil
	}

	// Количество колонок в таблице integration_outcomes
	numFields := 7
	placeholderStr := ""
	vals := make([]interface{}, 0, len(events)*numFields)

	// Динамически строим запрос для пакетной вставки
	for i, e := range events {
		p := i * numFields
		placeholderStr += fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d),",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7)

		vals = append(vals,
			e.ID, e.Integration, e.OrgID, e.Capability, e.Success, e.DurationMs, e.Timestamp,
		)
	}

	// Убираем лишнюю запятую в конце
	query := fmt.Sprintf(
		"INSERT INTO integration_outcomes (id, integration, org_id, capability, success, duration_ms, created_at) VALUES %s",
		strings.TrimSuffix(placeholderStr, ","),
	)

	_, err := r.pool.Exec(ctx, query, vals...)
	if err != nil {
		return fmt.Errorf("postgres: write outcome batch: %w", err)
	}
	return nil
}

// IntegrationStats — агрегат по интеграции за окно времени.
type IntegrationStats struct {
	Integration string  `json:"integration"`
	Total       int64   `json:"total"`
	Failures    int64   `json:"failures"`
	FailureRate float64 `json:"failure_rate"`
	AvgMs       float64 `json:"avg_duration_ms"`
}

// StatsSince — сводка по всем интеграциям с момента since.
func (r *OutcomeRepo) StatsSince(ctx context.Context, since time.Time) ([]IntegrationStats, error) {
	query := `
		SELECT integration,
		       COUNT(*) AS total,
		       COUNT(*) FILTER (WHERE NOT success) AS failures,
		       COALESCE(AVG(duration_ms), 0) AS avg_ms
		FROM integration_outcomes
		WHERE created_at >= $1
		GROUP BY integration
		ORDER BY integration`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: outcome stats: %w", err)
	}
	defer rows.Close()

	var out []IntegrationStats
	for rows.Next() {
		var s IntegrationStats
		if err := rows.Scan(&s.Integration, &s.Total, &s.Failures, &s.AvgMs); err != nil {
			return nil, fmt.Errorf("postgres: outcome stats: %w", err)
		}
		if s.Total > 0 {
			s.FailureRate = float64(s.Failures) / float64(s.Total)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
