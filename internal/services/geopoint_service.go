package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/ledger"
)

type GeopointInput struct {
	Name      string
	Type      core.TransactionType
	Latitude  float64
	Longitude float64
	Address   string
}

type GeopointService struct {
	store ledger.Store
	now   func() time.Time
	newID func() string
}

func NewGeopointService(store ledger.Store) *GeopointService {
	return &GeopointService{store: store, now: time.Now, newID: uuid.NewString}
}

func (s *GeopointService) CreateGeopoint(ctx context.Context, ownerID string, in GeopointInput) (core.Geopoint, error) {
	g := core.Geopoint{
		ID:        s.newID(),
		UserID:    ownerID,
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		Address:   in.Address,
		CreatedAt: s.now(),
	}
	if err := g.Validate(); err != nil {
		return core.Geopoint{}, err
	}

	err := s.store.WithinTx(ctx, func(tx ledger.Tx) error {
		return tx.InsertGeopoint(ctx, g)
	})
	if err != nil {
		return core.Geopoint{}, fmt.Errorf("create geopoint: %w", err)
	}
	return g, nil
}

func (s *GeopointService) ListGeopoints(ctx context.Context, ownerID string) ([]core.Geopoint, error) {
	points, err := s.store.ListGeopoints(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list geopoints: %w", err)
	}
	return points, nil
}
