// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samlabs/depman/internal/models"
)

// ClientRepository defines the interface for client registry operations.
type ClientRepository interface {
	Create(ctx context.Context, client *models.Client) error
	List(ctx context.Context) ([]*models.Client, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*models.Client, error)
	UpdateConfig(ctx context.Context, id uuid.UUID, cfg models.ClientConfig) error
	SetTargetVersion(ctx context.Context, id uuid.UUID, version string) error
	RecordCheckin(ctx context.Context, id uuid.UUID, currentVersion *string, status models.ClientStatus) error
	MarkSuccess(ctx context.Context, id uuid.UUID, version string) error
	MarkFailure(ctx context.Context, id uuid.UUID, version string, errorMessage *string, rolledBack bool) error
}

type clientRepo struct {
	pool *pgxpool.Pool
}

// NewClientRepository creates a new client repository.
func NewClientRepository(pool *pgxpool.Pool) ClientRepository {
	return &clientRepo{pool: pool}
}

const clientColumns = `id, name, api_key, current_version, target_version, last_seen, status, config, created_at, updated_at`

func scanClient(row pgx.Row) (*models.Client, error) {
	var c models.Client
	err := row.Scan(
		&c.ID,
		&c.Name,
		&c.APIKey,
		&c.CurrentVersion,
		&c.TargetVersion,
		&c.LastSeen,
		&c.Status,
		&c.Config,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create inserts a new client. New clients start offline until their agent
// checks in for the first time.
func (r *clientRepo) Create(ctx context.Context, client *models.Client) error {
	query := `
		INSERT INTO clients (id, name, api_key, status, config)
		VALUES ($1, $2, $3, 'offline', $4)
		RETURNING status, created_at, updated_at`

	if client.ID == uuid.Nil {
		client.ID = uuid.New()
	}

	return r.pool.QueryRow(ctx, query,
		client.ID,
		client.Name,
		client.APIKey,
		client.Config,
	).Scan(&client.Status, &client.CreatedAt, &client.UpdatedAt)
}

// List returns all clients, newest first.
func (r *clientRepo) List(ctx context.Context) ([]*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clients []*models.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

// GetByID retrieves a client by its UUID.
func (r *clientRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	return scanClient(r.pool.QueryRow(ctx, query, id))
}

// GetByAPIKey retrieves a client by its bearer token.
func (r *clientRepo) GetByAPIKey(ctx context.Context, apiKey string) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE api_key = $1`
	return scanClient(r.pool.QueryRow(ctx, query, apiKey))
}

// UpdateConfig replaces a client's deployment configuration.
func (r *clientRepo) UpdateConfig(ctx context.Context, id uuid.UUID, cfg models.ClientConfig) error {
	query := `
		UPDATE clients
		SET config = $2, updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, cfg)
	return err
}

// SetTargetVersion assigns the desired version. The latest assignment wins;
// there is no queue of pending directives.
func (r *clientRepo) SetTargetVersion(ctx context.Context, id uuid.UUID, version string) error {
	query := `
		UPDATE clients
		SET target_version = $2, updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, version)
	return err
}

// RecordCheckin persists agent liveness. A check-in that omits the current
// version must not erase the previously observed one, hence the COALESCE.
func (r *clientRepo) RecordCheckin(ctx context.Context, id uuid.UUID, currentVersion *string, status models.ClientStatus) error {
	query := `
		UPDATE clients
		SET current_version = COALESCE($2, current_version),
		    status = $3,
		    last_seen = now(),
		    updated_at = now()
		WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, currentVersion, status)
	return err
}

// finalizeLatestLog moves the newest non-terminal update log for
// (client, to_version) to a terminal status inside the caller's transaction.
// Terminal rows are never rewritten.
func finalizeLatestLog(ctx context.Context, tx pgx.Tx, clientID uuid.UUID, toVersion string, status models.UpdateLogStatus, errorMessage *string) error {
	query := `
		UPDATE update_logs
		SET status = $3, error_message = $4, completed_at = now()
		WHERE id = (
			SELECT id FROM update_logs
			WHERE client_id = $1 AND to_version = $2
			  AND status NOT IN ('completed', 'failed', 'rolled_back')
			ORDER BY started_at DESC
			LIMIT 1
		)`

	_, err := tx.Exec(ctx, query, clientID, toVersion, status, errorMessage)
	return err
}

// MarkSuccess records a confirmed install: current_version = version,
// target_version cleared, status online, and the matching update log
// completed — all in one transaction.
func (r *clientRepo) MarkSuccess(ctx context.Context, id uuid.UUID, version string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE clients
		SET current_version = $2, target_version = NULL, status = 'online', updated_at = now()
		WHERE id = $1`

	if _, err := tx.Exec(ctx, query, id, version); err != nil {
		return err
	}
	if err := finalizeLatestLog(ctx, tx, id, version, models.UpdateStatusCompleted, nil); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// MarkFailure records a failed update. The target version is deliberately
// kept so the operator can decide whether to retry or withdraw it.
func (r *clientRepo) MarkFailure(ctx context.Context, id uuid.UUID, version string, errorMessage *string, rolledBack bool) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	query := `
		UPDATE clients
		SET status = 'error', updated_at = now()
		WHERE id = $1`

	if _, err := tx.Exec(ctx, query, id); err != nil {
		return err
	}

	logStatus := models.UpdateStatusFailed
	if rolledBack {
		logStatus = models.UpdateStatusRolledBack
	}
	if err := finalizeLatestLog(ctx, tx, id, version, logStatus, errorMessage); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
