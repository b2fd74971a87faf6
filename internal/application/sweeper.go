package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// CredentialSweeper clears credentials whose expiry has passed. The cached
// codespace pointers stay so the owner sees what to reconfigure.
type CredentialSweeper struct {
	credentials driven.CredentialStore
	interval    time.Duration
	now         func() time.Time
}

// NewCredentialSweeper creates a CredentialSweeper that runs every interval.
func NewCredentialSweeper(credentials driven.CredentialStore, interval time.Duration) *CredentialSweeper {
	return &CredentialSweeper{credentials: credentials, interval: interval, now: time.Now}
}

// Start sweeps immediately, then on every interval until ctx is canceled.
func (s *CredentialSweeper) Start(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		slog.Error("initial credential sweep failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("credential sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				slog.Error("credential sweep failed", "error", err)
			}
		}
	}
}

// Sweep clears every expired credential and returns how many it cleared.
func (s *CredentialSweeper) Sweep(ctx context.Context) (int, error) {
	creds, err := s.credentials.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing credentials: %w", err)
	}

	now := s.now()
	cleared := 0
	for _, c := range creds {
		if c.Secret == "" || !c.Expired(now) {
			continue
		}
		c.Clear(now)
		if err := s.credentials.Put(ctx, c); err != nil {
			return cleared, fmt.Errorf("clearing credential for %s: %w", c.OwnerID, err)
		}
		slog.Info("expired credential cleared", "owner", c.OwnerID, "codespace", c.ResourceName)
		cleared++
	}
	return cleared, nil
}
