//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	"trackgate/internal/clients/store"
	id "trackgate/pkg/domain"
	"trackgate/pkg/platform/sentinel"
	"trackgate/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "domains", "clients")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newClient(level models.PrivacyLevel) *models.Client {
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := &models.Client{
		ID:             id.NewClientID(),
		Name:           "Test Client",
		Owner:          "ops",
		PrivacyLevel:   level,
		DeploymentType: models.DeploymentShared,
		Features:       models.Features{"page_views": true},
		IsActive:       true,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if level.IsRegulated() {
		c.IPSalt = "salt-" + string(c.ID)
		c.ConsentRequired = true
	}
	return c
}

func (s *PostgresStoreSuite) seed(c *models.Client, domains ...string) {
	ctx := context.Background()
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.CreateClient(ctx, c); err != nil {
			return err
		}
		for i, name := range domains {
			d := &models.Domain{Name: name, ClientID: c.ID, IsPrimary: i == 0, CreatedAt: c.CreatedAt}
			if err := tx.InsertDomain(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	c := s.newClient(models.PrivacyGDPR)
	s.seed(c, "shop.example", "blog.example")

	got, err := s.store.FindClient(context.Background(), c.ID)
	s.Require().NoError(err)
	s.Equal(c.Name, got.Name)
	s.Equal(c.IPSalt, got.IPSalt)
	s.True(got.ConsentRequired)
	s.Equal(c.Features, got.Features)
	s.Equal(int64(1), got.Version)

	domains, err := s.store.ListDomainsByClient(context.Background(), c.ID)
	s.Require().NoError(err)
	s.Require().Len(domains, 2)
	s.Equal("blog.example", domains[0].Name)
	s.False(domains[0].IsPrimary)
	s.True(domains[1].IsPrimary)
}

func (s *PostgresStoreSuite) TestFindMissingClient() {
	_, err := s.store.FindClient(context.Background(), id.NewClientID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestRollbackDiscardsWrites() {
	ctx := context.Background()
	c := s.newClient(models.PrivacyStandard)

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		s.Require().NoError(tx.CreateClient(ctx, c))
		s.Require().NoError(tx.InsertDomain(ctx, &models.Domain{Name: "a.example", ClientID: c.ID, CreatedAt: c.CreatedAt}))
		return errors.New("abort")
	})
	s.Require().Error(err)

	clients, domains, err := s.store.Snapshot(ctx)
	s.Require().NoError(err)
	s.Empty(clients)
	s.Empty(domains)
}

func (s *PostgresStoreSuite) TestDuplicateDomainRejected() {
	a := s.newClient(models.PrivacyStandard)
	s.seed(a, "shared.example")
	b := s.newClient(models.PrivacyStandard)

	err := s.store.RunInTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
		if err := tx.CreateClient(ctx, b); err != nil {
			return err
		}
		return tx.InsertDomain(ctx, &models.Domain{Name: "shared.example", ClientID: b.ID, CreatedAt: b.CreatedAt})
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
}

func (s *PostgresStoreSuite) TestSaltIsNeverReplaced() {
	ctx := context.Background()
	c := s.newClient(models.PrivacyGDPR)
	s.seed(c)

	updated := c.Clone()
	updated.PrivacyLevel = models.PrivacyHIPAA
	updated.IPSalt = "different"
	updated.Version = 2
	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.UpdateClient(ctx, updated, 1)
	}))

	got, err := s.store.FindClient(ctx, c.ID)
	s.Require().NoError(err)
	s.Equal(models.PrivacyHIPAA, got.PrivacyLevel)
	s.Equal(c.IPSalt, got.IPSalt)
	s.Equal(int64(2), got.Version)
}

func (s *PostgresStoreSuite) TestStaleVersionRejected() {
	ctx := context.Background()
	c := s.newClient(models.PrivacyStandard)
	s.seed(c)

	updated := c.Clone()
	updated.Name = "Renamed"
	updated.Version = 6
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.UpdateClient(ctx, updated, 5)
	})
	s.ErrorIs(err, sentinel.ErrVersionMismatch)

	missing := s.newClient(models.PrivacyStandard)
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.UpdateClient(ctx, missing, 1)
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentConditionalUpdates verifies that writers racing on the same
// version produce exactly one winner.
func (s *PostgresStoreSuite) TestConcurrentConditionalUpdates() {
	c := s.newClient(models.PrivacyStandard)
	s.seed(c)

	const goroutines = 20
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := c.Clone()
			next.Version = 2
			err := s.store.RunInTx(context.Background(), func(ctx context.Context, tx ports.Tx) error {
				return tx.UpdateClient(ctx, next, 1)
			})
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrVersionMismatch):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestPrimaryMovesWithinTx() {
	ctx := context.Background()
	c := s.newClient(models.PrivacyStandard)
	s.seed(c, "one.example", "two.example")

	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.ClearPrimary(ctx, c.ID); err != nil {
			return err
		}
		return tx.SetPrimary(ctx, "two.example", true)
	}))

	domains, err := s.store.ListDomainsByClient(ctx, c.ID)
	s.Require().NoError(err)
	for _, d := range domains {
		s.Equal(d.Name == "two.example", d.IsPrimary, d.Name)
	}
}

func (s *PostgresStoreSuite) TestDeleteDomain() {
	ctx := context.Background()
	c := s.newClient(models.PrivacyStandard)
	s.seed(c, "gone.example")

	s.Require().NoError(s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.DeleteDomain(ctx, "gone.example")
	}))
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx ports.Tx) error {
		_, err := tx.FindDomain(ctx, "gone.example")
		return err
	})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestPing() {
	s.NoError(s.store.Ping(context.Background()))
}
