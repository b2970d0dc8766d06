package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samlabs/depman/internal/models"
)

// UpdateLogRepository records dispatched update directives. Rows are
// finalized by the client repository's MarkSuccess/MarkFailure so the client
// state and log state move together.
type UpdateLogRepository interface {
	Create(ctx context.Context, clientID uuid.UUID, fromVersion *string, toVersion string) (*models.UpdateLog, error)
	ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.UpdateLog, error)
}

type updateLogRepo struct {
	pool *pgxpool.Pool
}

// NewUpdateLogRepository creates a new update log repository.
func NewUpdateLogRepository(pool *pgxpool.Pool) UpdateLogRepository {
	return &updateLogRepo{pool: pool}
}

// Create opens a pending log row at directive dispatch time.
func (r *updateLogRepo) Create(ctx context.Context, clientID uuid.UUID, fromVersion *string, toVersion string) (*models.UpdateLog, error) {
	query := `
		INSERT INTO update_logs (id, client_id, from_version, to_version, status)
		VALUES ($1, $2, $3, $4, 'pending')
		RETURNING status, started_at`

	log := &models.UpdateLog{
		ID:          uuid.New(),
		ClientID:    clientID,
		FromVersion: fromVersion,
		ToVersion:   toVersion,
	}
	err := r.pool.QueryRow(ctx, query,
		log.ID,
		log.ClientID,
		log.FromVersion,
		log.ToVersion,
	).Scan(&log.Status, &log.StartedAt)
	if err != nil {
		return nil, err
	}
	return log, nil
}

// ListByClient returns a client's update history, newest first.
func (r *updateLogRepo) ListByClient(ctx context.Context, clientID uuid.UUID) ([]*models.UpdateLog, error) {
	query := `
		SELECT id, client_id, from_version, to_version, status, error_message, started_at, completed_at
		FROM update_logs
		WHERE client_id = $1
		ORDER BY started_at DESC`

	rows, err := r.pool.Query(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.UpdateLog
	for rows.Next() {
		var l models.UpdateLog
		if err := rows.Scan(
			&l.ID,
			&l.ClientID,
			&l.FromVersion,
			&l.ToVersion,
			&l.Status,
			&l.ErrorMessage,
			&l.StartedAt,
			&l.CompletedAt,
		); err != nil {
			return nil, err
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
