package postgres

import (
	"context"
	"errors"
	"fmt"

	"app-build-queue/internal/domain/model"
	"app-build-queue/internal/domain/ports/repository"
	"app-build-queue/internal/infra/metrics"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4/pgxpool"
)

var _ repository.ArchiveRepository = (*buildRecordRepo)(nil)

type buildRecordRepo struct {
	pool *pgxpool.Pool
}

func NewBuildRecordRepo(pool *pgxpool.Pool) *buildRecordRepo {
	return &buildRecordRepo{pool: pool}
}

// SaveTerminal writes the one durable row a job leaves behind. Upsert keeps
// the at-least-once worker loop idempotent: a retried terminal write for the
// same job overwrites rather than duplicates.
func (r *buildRecordRepo) SaveTerminal(ctx context.Context, rec *model.BuildRecord) error {
	const q = `
INSERT INTO build_records (id, project_id, user_id, tier, status, goal, duration_secs, error_message, debug_id, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  duration_secs = EXCLUDED.duration_secs,
  error_message = EXCLUDED.error_message,
  debug_id = EXCLUDED.debug_id,
  completed_at = EXCLUDED.completed_at;`

	_, err := r.pool.Exec(ctx, q,
		rec.ID, rec.ProjectID, rec.UserID, string(rec.Tier), string(rec.Status),
		rec.Goal, rec.DurationSecs, rec.ErrorMessage, rec.DebugID, rec.CompletedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return fmt.Errorf("save build record %s: %s (code %s)", rec.ID, pgErr.Message, pgErr.Code)
		}
		return err
	}
	if rec.DurationSecs > 0 {
		metrics.ObserveBuildDuration(string(rec.Tier), rec.DurationSecs)
	}
	return nil
}
