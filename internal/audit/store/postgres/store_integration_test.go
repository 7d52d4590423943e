//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trackgate/internal/audit"
	"trackgate/internal/audit/store/postgres"
	id "trackgate/pkg/domain"
	txcontext "trackgate/pkg/platform/tx"
	"trackgate/pkg/testutil/containers"
)

type PostgresAuditSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
}

func TestPostgresAuditSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresAuditSuite))
}

func (s *PostgresAuditSuite) SetupSuite() {
	s.postgres = containers.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.Pool)
}

func (s *PostgresAuditSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "config_changes"))
}

func (s *PostgresAuditSuite) change(clientID id.ClientID, at time.Time) audit.ConfigurationChange {
	return audit.ConfigurationChange{
		ID:          audit.NewChangeID(at),
		ClientID:    clientID,
		ChangedBy:   "admin@example.com",
		Action:      audit.ActionClientUpdated,
		Description: "updated name",
		OldConfig:   map[string]any{"name": "before"},
		NewConfig:   map[string]any{"name": "after"},
		Timestamp:   at.UTC().Truncate(time.Microsecond),
		RequestID:   "req-1",
	}
}

func (s *PostgresAuditSuite) TestAppendAndListByClient() {
	ctx := context.Background()
	clientID := id.NewClientID()
	base := time.Now()
	first := s.change(clientID, base)
	second := s.change(clientID, base.Add(time.Second))
	second.OldConfig = nil
	second.Action = audit.ActionClientCreated

	s.Require().NoError(s.store.Append(ctx, second))
	s.Require().NoError(s.store.Append(ctx, first))
	s.Require().NoError(s.store.Append(ctx, s.change(id.NewClientID(), base)))

	changes, err := s.store.ListByClient(ctx, clientID)
	s.Require().NoError(err)
	s.Require().Len(changes, 2)
	s.Equal(first.ID, changes[0].ID)
	s.Equal("before", changes[0].OldConfig["name"])
	s.Equal(second.ID, changes[1].ID)
	s.Nil(changes[1].OldConfig)
	s.Equal(audit.ActionClientCreated, changes[1].Action)
}

func (s *PostgresAuditSuite) TestAppendJoinsCallerTransaction() {
	ctx := context.Background()
	clientID := id.NewClientID()

	tx, err := s.postgres.Pool.Begin(ctx)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Append(txcontext.WithTx(ctx, tx), s.change(clientID, time.Now())))
	s.Require().NoError(tx.Rollback(ctx))

	changes, err := s.store.ListByClient(ctx, clientID)
	s.Require().NoError(err)
	s.Empty(changes)
}

func (s *PostgresAuditSuite) TestListByTimeRangeIsHalfOpen() {
	ctx := context.Background()
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(time.Hour)

	inside := s.change(id.NewClientID(), from)
	atEnd := s.change(id.NewClientID(), to)
	s.Require().NoError(s.store.Append(ctx, inside))
	s.Require().NoError(s.store.Append(ctx, atEnd))

	changes, err := s.store.ListByTimeRange(ctx, from, to)
	s.Require().NoError(err)
	s.Require().Len(changes, 1)
	s.Equal(inside.ID, changes[0].ID)
}

func (s *PostgresAuditSuite) TestRowsAreAppendOnly() {
	ctx := context.Background()
	c := s.change(id.NewClientID(), time.Now())
	s.Require().NoError(s.store.Append(ctx, c))

	_, err := s.postgres.Pool.Exec(ctx, `UPDATE config_changes SET changed_by = 'someone' WHERE id = $1`, c.ID)
	s.Error(err)
	_, err = s.postgres.Pool.Exec(ctx, `DELETE FROM config_changes WHERE id = $1`, c.ID)
	s.Error(err)
}

func (s *PostgresAuditSuite) TestOutbox() {
	ctx := context.Background()
	base := time.Now()
	a := s.change(id.NewClientID(), base)
	b := s.change(id.NewClientID(), base.Add(time.Millisecond))
	s.Require().NoError(s.store.Append(ctx, a))
	s.Require().NoError(s.store.Append(ctx, b))

	pending, err := s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal(a.ID, pending[0].ID)

	s.Require().NoError(s.store.MarkPublished(ctx, []string{a.ID}, time.Now()))

	pending, err = s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(b.ID, pending[0].ID)
}
