//go:build integration

package containers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"trackgate/internal/platform/postgres"
)

// PostgresContainer wraps a migrated testcontainers Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	URL       string
	Pool      *pgxpool.Pool
}

var (
	postgresOnce   sync.Once
	sharedPostgres *PostgresContainer
	postgresErr    error
)

// GetPostgres returns a Postgres container shared by every suite in the test
// binary. The schema is migrated once on first use.
func GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	postgresOnce.Do(func() {
		sharedPostgres, postgresErr = startPostgres(context.Background())
	})
	if postgresErr != nil {
		t.Fatalf("failed to start postgres container: %v", postgresErr)
	}
	return sharedPostgres
}

func startPostgres(ctx context.Context) (*PostgresContainer, error) {
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("trackgate"),
		tcpostgres.WithUsername("trackgate"),
		tcpostgres.WithPassword("trackgate"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, err
	}

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("connection string: %w", err)
	}
	if err := postgres.Migrate(url); err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	pool, err := postgres.NewPool(ctx, postgres.Config{URL: url, MaxConns: 10})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	return &PostgresContainer{Container: container, URL: url, Pool: pool}, nil
}

// TruncateTables empties the given tables. Audit rows are protected by an
// append-only trigger, which TRUNCATE does not fire.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	_, err := p.Pool.Exec(ctx, "TRUNCATE "+strings.Join(tables, ", ")+" CASCADE")
	return err
}
