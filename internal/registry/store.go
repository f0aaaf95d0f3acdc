package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Store defines the durable persistence layer for the bot registry.
// The registry is small and write volume is administrative, so every
// mutation rewrites the full collection; recovery is trivially a load.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// LoadAll returns all bots in registration order.
	LoadAll(ctx context.Context) ([]Bot, error)

	// ReplaceAll atomically replaces the stored registry with bots.
	ReplaceAll(ctx context.Context, bots []Bot) error

	// RunMaintenance performs database maintenance tasks like VACUUM.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore provides an implementation of the Store interface using sqlx.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a new Store implementation backed by sqlx.
// It requires a connected sqlx.DB instance and a logger.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "registry_store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadAll returns all bots ordered by insertion position so that
// first-match-wins lookups survive a restart unchanged.
func (s *sqlxStore) LoadAll(ctx context.Context) ([]Bot, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var bots []Bot
	query := `
        SELECT id, page_id, verify_token, page_access_token, api_key, created_at
        FROM bots
        ORDER BY position ASC;
    `

	err := s.db.SelectContext(ctx, &bots, query)
	if err != nil {
		s.logger.ErrorContext(ctx, "Error loading bots", "error", err)
		return nil, fmt.Errorf("failed to load bots: %w", err)
	}

	s.logger.DebugContext(ctx, "Loaded bots from store", "count", len(bots))
	return bots, nil
}

// ReplaceAll deletes every stored bot and inserts the given collection
// inside one transaction. Readers observe the previous or the next
// complete registry, never a partial write.
func (s *sqlxStore) ReplaceAll(ctx context.Context, bots []Bot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin transaction for registry write", "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back transaction", "error", rollbackErr)
				}
			}
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM bots`); err != nil {
		s.logger.ErrorContext(ctx, "Error clearing bots table", "error", err)
		return fmt.Errorf("failed to clear bots table: %w", err)
	}

	query := `
        INSERT INTO bots (id, page_id, verify_token, page_access_token, api_key, created_at)
        VALUES (:id, :page_id, :verify_token, :page_access_token, :api_key, :created_at);
    `
	for i := range bots {
		if _, err := tx.NamedExecContext(ctx, query, &bots[i]); err != nil {
			s.logger.ErrorContext(ctx, "Error inserting bot", "bot_id", bots[i].ID, "error", err)
			return fmt.Errorf("failed to insert bot %s: %w", bots[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit registry write", "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Registry persisted", "count", len(bots))
	return nil
}

// RunMaintenance executes a VACUUM command on the SQLite database.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context cancelled before starting VACUUM", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance (VACUUM)...")

	// VACUUM must run outside a transaction in SQLite.
	_, err := s.db.ExecContext(ctx, "VACUUM;")

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		s.logger.WarnContext(ctx, "VACUUM operation timed out or was cancelled", "error", err)
		return fmt.Errorf("database maintenance (VACUUM) timed out: %w", err)

	case err != nil:
		s.logger.ErrorContext(ctx, "Database maintenance (VACUUM) failed", "error", err)
		return fmt.Errorf("failed to execute VACUUM: %w", err)

	default:
		s.logger.InfoContext(ctx, "Database maintenance (VACUUM) completed successfully")
	}

	return nil
}
