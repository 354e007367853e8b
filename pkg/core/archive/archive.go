// Package archive persists completed call sessions and terminal village
// actions to Postgres for after-the-fact review. The archive is optional:
// without a DSN the gateway keeps everything in memory, matching the
// original in-memory demo deployment. Archive writes are best-effort and
// never block or fail the orchestration path.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/villagehq/village/pkg/core"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Archive writes completed sessions and terminal actions to Postgres.
// A nil *Archive is valid and discards everything.
type Archive struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres and applies pending migrations. An empty DSN
// returns (nil, nil): archiving disabled, not an error.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Archive, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := migrate(ctx, dsn); err != nil {
		return nil, fmt.Errorf("apply archive migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect archive: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}

	return &Archive{pool: pool, logger: logger}, nil
}

func migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

// SaveSession archives one completed call session.
func (a *Archive) SaveSession(ctx context.Context, s *core.CallSession) error {
	if a == nil || s == nil {
		return nil
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO completed_calls (id, elder_id, started_at, ended_at, duration_seconds, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			payload = EXCLUDED.payload`,
		s.ID, s.ElderID, s.StartedAt, s.EndedAt, s.DurationSeconds, payload)
	if err != nil {
		return fmt.Errorf("archive session %s: %w", s.ID, err)
	}
	return nil
}

// SaveAction archives one village action, typically in a terminal state.
func (a *Archive) SaveAction(ctx context.Context, action *core.VillageAction) error {
	if a == nil || action == nil {
		return nil
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("marshal action %s: %w", action.ID, err)
	}
	_, err = a.pool.Exec(ctx, `
		INSERT INTO village_actions (id, call_session_id, triggered_at, status, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			payload = EXCLUDED.payload`,
		action.ID, action.CallSessionID, action.TriggeredAt, string(action.Status), payload)
	if err != nil {
		return fmt.Errorf("archive action %s: %w", action.ID, err)
	}
	return nil
}

// Enabled reports whether archiving is active.
func (a *Archive) Enabled() bool {
	return a != nil && a.pool != nil
}

// Close releases the connection pool.
func (a *Archive) Close() {
	if a != nil && a.pool != nil {
		a.pool.Close()
	}
}
