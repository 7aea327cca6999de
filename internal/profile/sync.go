// Package profile fetches and merges the user identity and usage-statistics
// resources into the single cached profile record the rest of the client
// reads its gating decisions from.
package profile

import (
	"context"
	"fmt"

	"github.com/lumenhq/lumen-go/internal/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	userPath  = "/accounts/user/"
	statsPath = "/subscriptions/me/stats/"
)

// APIClient is the authenticated dispatcher surface the synchronizer needs.
type APIClient interface {
	GetJSON(ctx context.Context, path string, destination any) error
	PatchJSON(ctx context.Context, path string, payload any, destination any) error
}

// ProfileStore caches the merged profile between fetches.
type ProfileStore interface {
	LoadProfile() (*models.UserProfile, error)
	SaveProfile(models.UserProfile) error
}

// Synchronizer keeps the cached profile in step with the identity and stats
// endpoints.
type Synchronizer struct {
	api   APIClient
	store ProfileStore
}

// NewSynchronizer wires a synchronizer to the dispatcher and store.
func NewSynchronizer(api APIClient, store ProfileStore) *Synchronizer {
	return &Synchronizer{api: api, store: store}
}

// FetchProfile fetches identity and usage statistics concurrently and caches
// the merged result.
//
// Identity failure fails the whole fetch and leaves the cache untouched. A
// stats failure alone is a valid degraded state: the profile is cached with
// Stats nil and the fetch succeeds.
func (s *Synchronizer) FetchProfile(ctx context.Context) (*models.UserProfile, error) {
	var identity models.UserProfile
	var stats models.Stats
	var statsErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.api.GetJSON(gctx, userPath, &identity)
	})
	g.Go(func() error {
		// Never propagated through the group: a stats failure must not cancel
		// or fail the identity fetch.
		statsErr = s.api.GetJSON(gctx, statsPath, &stats)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch user identity: %w", err)
	}

	if statsErr != nil {
		log.Warn().Err(statsErr).Msg("Stats fetch failed, caching profile without usage data")
		identity.Stats = nil
	} else {
		stats.ComputeDerived()
		identity.Stats = &stats
	}

	if err := s.store.SaveProfile(identity); err != nil {
		return nil, fmt.Errorf("cache profile: %w", err)
	}

	return &identity, nil
}

// FetchStats re-fetches only the usage statistics and merges them into the
// cached profile, preserving the identity fields.
func (s *Synchronizer) FetchStats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	if err := s.api.GetJSON(ctx, statsPath, &stats); err != nil {
		return nil, fmt.Errorf("fetch usage stats: %w", err)
	}
	stats.ComputeDerived()

	cached, err := s.store.LoadProfile()
	if err != nil {
		return nil, fmt.Errorf("load cached profile: %w", err)
	}
	if cached == nil {
		cached = &models.UserProfile{}
	}
	cached.Stats = &stats

	if err := s.store.SaveProfile(*cached); err != nil {
		return nil, fmt.Errorf("cache profile: %w", err)
	}

	return &stats, nil
}

// UpdateUser patches identity fields on the server and shallow-merges the
// result into the cached profile, keeping the cached stats sub-record.
func (s *Synchronizer) UpdateUser(ctx context.Context, updates map[string]any) (*models.UserProfile, error) {
	var updated models.UserProfile
	if err := s.api.PatchJSON(ctx, userPath, updates, &updated); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	cached, err := s.store.LoadProfile()
	if err != nil {
		return nil, fmt.Errorf("load cached profile: %w", err)
	}
	if cached != nil {
		updated.Stats = cached.Stats
	}

	if err := s.store.SaveProfile(updated); err != nil {
		return nil, fmt.Errorf("cache profile: %w", err)
	}

	return &updated, nil
}
