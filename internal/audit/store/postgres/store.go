package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trackgate/internal/audit"
	id "trackgate/pkg/domain"
	txcontext "trackgate/pkg/platform/tx"
)

// Store implements audit.Store on the config_changes table. Rows double as a
// transactional outbox: published_at stays null until the relay has shipped
// them to the event stream.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a new PostgreSQL audit store.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type dbExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.pool
}

const selectColumns = `id, client_id, changed_by, action, description, old_config, new_config, occurred_at, request_id`

// Append inserts a change. Inside a transaction it commits or rolls back with
// the mutation it describes.
func (s *Store) Append(ctx context.Context, change audit.ConfigurationChange) error {
	oldConfig, err := marshalSnapshot(change.OldConfig)
	if err != nil {
		return err
	}
	newConfig, err := marshalSnapshot(change.NewConfig)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO config_changes (id, client_id, changed_by, action, description,
			old_config, new_config, occurred_at, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err = s.execer(ctx).Exec(ctx, query,
		change.ID,
		change.ClientID.String(),
		change.ChangedBy,
		string(change.Action),
		change.Description,
		oldConfig,
		newConfig,
		change.Timestamp,
		change.RequestID,
	)
	if err != nil {
		return fmt.Errorf("insert config change: %w", err)
	}
	return nil
}

// ListByClient returns a client's changes, oldest first.
func (s *Store) ListByClient(ctx context.Context, clientID id.ClientID) ([]audit.ConfigurationChange, error) {
	query := `SELECT ` + selectColumns + `
		FROM config_changes
		WHERE client_id = $1
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, clientID.String())
	if err != nil {
		return nil, fmt.Errorf("query config changes: %w", err)
	}
	return scanChanges(rows)
}

// ListByTimeRange returns changes with from <= occurred_at < to, oldest first.
func (s *Store) ListByTimeRange(ctx context.Context, from, to time.Time) ([]audit.ConfigurationChange, error) {
	query := `SELECT ` + selectColumns + `
		FROM config_changes
		WHERE occurred_at >= $1 AND occurred_at < $2
		ORDER BY occurred_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("query config changes: %w", err)
	}
	return scanChanges(rows)
}

// ListUnpublished returns the oldest rows the relay has not shipped yet.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]audit.ConfigurationChange, error) {
	query := `SELECT ` + selectColumns + `
		FROM config_changes
		WHERE published_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query unpublished changes: %w", err)
	}
	return scanChanges(rows)
}

// MarkPublished stamps published_at on the given rows.
func (s *Store) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE config_changes SET published_at = $1 WHERE id = ANY($2) AND published_at IS NULL`
	if _, err := s.pool.Exec(ctx, query, at, ids); err != nil {
		return fmt.Errorf("mark changes published: %w", err)
	}
	return nil
}

func scanChanges(rows pgx.Rows) ([]audit.ConfigurationChange, error) {
	defer rows.Close()

	changes := []audit.ConfigurationChange{}
	for rows.Next() {
		var (
			change             audit.ConfigurationChange
			clientID, action   string
			oldConfig, newConf []byte
		)
		if err := rows.Scan(
			&change.ID,
			&clientID,
			&change.ChangedBy,
			&action,
			&change.Description,
			&oldConfig,
			&newConf,
			&change.Timestamp,
			&change.RequestID,
		); err != nil {
			return nil, fmt.Errorf("scan config change: %w", err)
		}
		change.ClientID = id.ClientID(clientID)
		change.Action = audit.Action(action)
		var err error
		if change.OldConfig, err = unmarshalSnapshot(oldConfig); err != nil {
			return nil, err
		}
		if change.NewConfig, err = unmarshalSnapshot(newConf); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config changes: %w", err)
	}
	return changes, nil
}

func marshalSnapshot(snap map[string]any) ([]byte, error) {
	if snap == nil {
		return nil, nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal config snapshot: %w", err)
	}
	return b, nil
}

func unmarshalSnapshot(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var snap map[string]any
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal config snapshot: %w", err)
	}
	return snap, nil
}
