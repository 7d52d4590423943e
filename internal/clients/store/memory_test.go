package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"trackgate/internal/clients/models"
	"trackgate/internal/clients/ports"
	id "trackgate/pkg/domain"
	"trackgate/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) newClient() *models.Client {
	now := time.Now()
	return &models.Client{
		ID:             id.ClientID(uuid.NewString()),
		Name:           "Test Client",
		Owner:          "ops",
		PrivacyLevel:   models.PrivacyStandard,
		DeploymentType: models.DeploymentShared,
		Features:       models.Features{},
		IsActive:       true,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func (s *InMemoryStoreSuite) seed(c *models.Client, domains ...*models.Domain) {
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.CreateClient(ctx, c); err != nil {
			return err
		}
		for _, d := range domains {
			if err := tx.InsertDomain(ctx, d); err != nil {
				return err
			}
		}
		return nil
	}))
}

func (s *InMemoryStoreSuite) TestFailedTxLeavesNoTrace() {
	c := s.newClient()
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		s.Require().NoError(tx.CreateClient(ctx, c))
		s.Require().NoError(tx.InsertDomain(ctx, &models.Domain{Name: "a.example", ClientID: c.ID}))
		return errors.New("abort")
	})
	s.Require().Error(err)

	_, err = s.store.FindClient(s.ctx, c.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	clients, domains, err := s.store.Snapshot(s.ctx)
	s.Require().NoError(err)
	s.Empty(clients)
	s.Empty(domains)
}

func (s *InMemoryStoreSuite) TestTxReadsItsOwnWrites() {
	c := s.newClient()
	s.seed(c, &models.Domain{Name: "a.example", ClientID: c.ID, IsPrimary: true})

	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		s.Require().NoError(tx.InsertDomain(ctx, &models.Domain{Name: "b.example", ClientID: c.ID}))
		s.Require().NoError(tx.DeleteDomain(ctx, "a.example"))

		domains, err := tx.ListDomainsByClient(ctx, c.ID)
		s.Require().NoError(err)
		s.Require().Len(domains, 1)
		s.Equal("b.example", domains[0].Name)

		_, err = tx.FindDomain(ctx, "a.example")
		s.ErrorIs(err, sentinel.ErrNotFound)
		return nil
	}))

	domains, err := s.store.ListDomainsByClient(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Require().Len(domains, 1)
	s.Equal("b.example", domains[0].Name)
}

func (s *InMemoryStoreSuite) TestUniqueness() {
	c := s.newClient()
	s.seed(c, &models.Domain{Name: "a.example", ClientID: c.ID})

	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.CreateClient(ctx, c)
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	other := s.newClient()
	err = s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.CreateClient(ctx, other); err != nil {
			return err
		}
		return tx.InsertDomain(ctx, &models.Domain{Name: "a.example", ClientID: other.ID})
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	_, err = s.store.FindClient(s.ctx, other.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestConditionalUpdate() {
	c := s.newClient()
	s.seed(c)

	next := c.Clone()
	next.Name = "Renamed"
	next.Version = 2
	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.UpdateClient(ctx, next, 1)
	}))

	stale := c.Clone()
	stale.Version = 2
	err := s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		return tx.UpdateClient(ctx, stale, 1)
	})
	s.ErrorIs(err, sentinel.ErrVersionMismatch)

	found, err := s.store.FindClient(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("Renamed", found.Name)
}

func (s *InMemoryStoreSuite) TestClearPrimary() {
	c := s.newClient()
	s.seed(c,
		&models.Domain{Name: "a.example", ClientID: c.ID, IsPrimary: true},
		&models.Domain{Name: "b.example", ClientID: c.ID},
	)

	s.Require().NoError(s.store.RunInTx(s.ctx, func(ctx context.Context, tx ports.Tx) error {
		if err := tx.ClearPrimary(ctx, c.ID); err != nil {
			return err
		}
		return tx.SetPrimary(ctx, "b.example", true)
	}))

	domains, err := s.store.ListDomainsByClient(s.ctx, c.ID)
	s.Require().NoError(err)
	s.False(domains[0].IsPrimary)
	s.True(domains[1].IsPrimary)
}

func (s *InMemoryStoreSuite) TestReturnedValuesAreCopies() {
	c := s.newClient()
	s.seed(c)

	found, err := s.store.FindClient(s.ctx, c.ID)
	s.Require().NoError(err)
	found.Name = "mutated"
	found.Features["clicks"] = true

	again, err := s.store.FindClient(s.ctx, c.ID)
	s.Require().NoError(err)
	s.Equal("Test Client", again.Name)
	s.Empty(again.Features)
}
