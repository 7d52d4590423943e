package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	id "trackgate/pkg/domain"
	dErrors "trackgate/pkg/domain-errors"
	"trackgate/pkg/platform/sentinel"
	txcontext "trackgate/pkg/platform/tx"
)

const (
	defaultTxTimeout = 5 * time.Second
	uniqueViolation  = "23505"
)

// Postgres is the durable registry. Clients, domains and audit rows share one
// transaction, so a mutation and its audit record commit together.
type Postgres struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool, timeout: defaultTxTimeout}
}

var _ ports.Store = (*Postgres)(nil)

type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *Postgres) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(txcontext.WithTx(ctx, tx), &postgresTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Postgres) FindClient(ctx context.Context, clientID id.ClientID) (*models.Client, error) {
	return findClient(ctx, s.pool, clientID, false)
}

func (s *Postgres) ListClients(ctx context.Context) ([]*models.Client, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, client_id`)
	if err != nil {
		return nil, fmt.Errorf("query clients: %w", err)
	}
	return scanClients(rows)
}

func (s *Postgres) ListDomainsByClient(ctx context.Context, clientID id.ClientID) ([]*models.Domain, error) {
	return listDomainsByClient(ctx, s.pool, clientID)
}

// Snapshot reads clients and domains in one repeatable-read transaction so the
// two lists agree with each other.
func (s *Postgres) Snapshot(ctx context.Context) ([]*models.Client, []*models.Domain, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	rows, err := tx.Query(ctx, `SELECT `+clientColumns+` FROM clients ORDER BY created_at, client_id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query clients: %w", err)
	}
	clients, err := scanClients(rows)
	if err != nil {
		return nil, nil, err
	}

	rows, err = tx.Query(ctx, `SELECT `+domainColumns+` FROM domains ORDER BY domain`)
	if err != nil {
		return nil, nil, fmt.Errorf("query domains: %w", err)
	}
	domains, err := scanDomains(rows)
	if err != nil {
		return nil, nil, err
	}
	return clients, domains, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type postgresTx struct {
	q queryer
}

func (t *postgresTx) FindClient(ctx context.Context, clientID id.ClientID) (*models.Client, error) {
	return findClient(ctx, t.q, clientID, true)
}

func (t *postgresTx) CreateClient(ctx context.Context, c *models.Client) error {
	features, err := json.Marshal(c.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	_, err = t.q.Exec(ctx, `
		INSERT INTO clients (client_id, name, owner, billing_entity, privacy_level, deployment_type,
			vm_hostname, ip_collection_enabled, ip_salt, consent_required, features,
			monthly_event_limit, billing_rate, is_active, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		c.ID.String(), c.Name, c.Owner, c.BillingEntity, string(c.PrivacyLevel), string(c.DeploymentType),
		c.VMHostname, c.IPCollectionEnabled, nullable(c.IPSalt), c.ConsentRequired, features,
		c.MonthlyEventLimit, c.BillingRate, c.IsActive, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

// UpdateClient writes every mutable column. ip_salt is only ever filled in,
// never replaced, even if a caller passes a different value.
func (t *postgresTx) UpdateClient(ctx context.Context, c *models.Client, expectedVersion int64) error {
	features, err := json.Marshal(c.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE clients SET
			name = $2, owner = $3, billing_entity = $4, privacy_level = $5, deployment_type = $6,
			vm_hostname = $7, ip_collection_enabled = $8, ip_salt = COALESCE(ip_salt, $9),
			consent_required = $10, features = $11, monthly_event_limit = $12, billing_rate = $13,
			is_active = $14, version = $15, updated_at = $16
		WHERE client_id = $1 AND version = $17
	`,
		c.ID.String(), c.Name, c.Owner, c.BillingEntity, string(c.PrivacyLevel), string(c.DeploymentType),
		c.VMHostname, c.IPCollectionEnabled, nullable(c.IPSalt),
		c.ConsentRequired, features, c.MonthlyEventLimit, c.BillingRate,
		c.IsActive, c.Version, c.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := findClient(ctx, t.q, c.ID, false); err != nil {
			return err
		}
		return sentinel.ErrVersionMismatch
	}
	return nil
}

func (t *postgresTx) FindDomain(ctx context.Context, name string) (*models.Domain, error) {
	row := t.q.QueryRow(ctx, `SELECT `+domainColumns+` FROM domains WHERE domain = $1 FOR UPDATE`, name)
	d, err := scanDomain(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find domain: %w", err)
	}
	return d, nil
}

func (t *postgresTx) ListDomainsByClient(ctx context.Context, clientID id.ClientID) ([]*models.Domain, error) {
	return listDomainsByClient(ctx, t.q, clientID)
}

func (t *postgresTx) InsertDomain(ctx context.Context, d *models.Domain) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO domains (domain, client_id, is_primary, created_at)
		VALUES ($1, $2, $3, $4)
	`, d.Name, d.ClientID.String(), d.IsPrimary, d.CreatedAt)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert domain: %w", err)
	}
	return nil
}

func (t *postgresTx) SetPrimary(ctx context.Context, name string, primary bool) error {
	tag, err := t.q.Exec(ctx, `UPDATE domains SET is_primary = $2 WHERE domain = $1`, name, primary)
	if err != nil {
		return fmt.Errorf("set primary: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (t *postgresTx) ClearPrimary(ctx context.Context, clientID id.ClientID) error {
	_, err := t.q.Exec(ctx, `UPDATE domains SET is_primary = FALSE WHERE client_id = $1 AND is_primary`, clientID.String())
	if err != nil {
		return fmt.Errorf("clear primary: %w", err)
	}
	return nil
}

func (t *postgresTx) DeleteDomain(ctx context.Context, name string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM domains WHERE domain = $1`, name)
	if err != nil {
		return fmt.Errorf("delete domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

const clientColumns = `client_id, name, owner, billing_entity, privacy_level, deployment_type,
	vm_hostname, ip_collection_enabled, ip_salt, consent_required, features,
	monthly_event_limit, billing_rate, is_active, version, created_at, updated_at`

const domainColumns = `domain, client_id, is_primary, created_at`

func findClient(ctx context.Context, q queryer, clientID id.ClientID, forUpdate bool) (*models.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE client_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanClient(q.QueryRow(ctx, query, clientID.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find client: %w", err)
	}
	return c, nil
}

func listDomainsByClient(ctx context.Context, q queryer, clientID id.ClientID) ([]*models.Domain, error) {
	rows, err := q.Query(ctx, `SELECT `+domainColumns+` FROM domains WHERE client_id = $1 ORDER BY domain`, clientID.String())
	if err != nil {
		return nil, fmt.Errorf("query domains: %w", err)
	}
	return scanDomains(rows)
}

func scanClient(row pgx.Row) (*models.Client, error) {
	var (
		c                      models.Client
		clientID, privacy, dep string
		salt                   *string
		features               []byte
	)
	if err := row.Scan(
		&clientID, &c.Name, &c.Owner, &c.BillingEntity, &privacy, &dep,
		&c.VMHostname, &c.IPCollectionEnabled, &salt, &c.ConsentRequired, &features,
		&c.MonthlyEventLimit, &c.BillingRate, &c.IsActive, &c.Version, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.ID = id.ClientID(clientID)
	c.PrivacyLevel = models.PrivacyLevel(privacy)
	c.DeploymentType = models.DeploymentType(dep)
	if salt != nil {
		c.IPSalt = *salt
	}
	c.Features = models.Features{}
	if len(features) > 0 {
		if err := json.Unmarshal(features, &c.Features); err != nil {
			return nil, fmt.Errorf("unmarshal features: %w", err)
		}
	}
	return &c, nil
}

func scanClients(rows pgx.Rows) ([]*models.Client, error) {
	defer rows.Close()
	out := []*models.Client{}
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return out, nil
}

func scanDomain(row pgx.Row) (*models.Domain, error) {
	var (
		d        models.Domain
		clientID string
	)
	if err := row.Scan(&d.Name, &clientID, &d.IsPrimary, &d.CreatedAt); err != nil {
		return nil, err
	}
	d.ClientID = id.ClientID(clientID)
	return &d, nil
}

func scanDomains(rows pgx.Rows) ([]*models.Domain, error) {
	defer rows.Close()
	out := []*models.Domain{}
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}
	return out, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
