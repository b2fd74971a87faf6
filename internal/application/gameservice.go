package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// GameConfig bounds the game launch workflow.
type GameConfig struct {
	// HealthAttempts and HealthInterval bound the wait for the in-VM web
	// server after the codespace wakes.
	HealthAttempts int
	HealthInterval time.Duration
	// AddressAttempts and AddressInterval bound the wait for the game server
	// to report its public address.
	AddressAttempts int
	AddressInterval time.Duration
	MonitorInterval time.Duration
}

// DefaultGameConfig matches the cadence the startup script is built for.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		HealthAttempts:  40,
		HealthInterval:  5 * time.Second,
		AddressAttempts: 12,
		AddressInterval: 5 * time.Second,
		MonitorInterval: time.Minute,
	}
}

// GameService launches the game server inside a codespace and watches
// game server addresses for online and offline transitions.
type GameService struct {
	access   *AccessResolver
	wake     *WakeOrchestrator
	host     driven.GameHost
	status   driven.GameStatusChecker
	watches  driven.WatchStore
	notifier driven.Notifier
	recorder driven.CampaignRecorder
	cfg      GameConfig
	now      func() time.Time
}

// NewGameService creates a GameService. notifier and recorder may be nil.
func NewGameService(
	access *AccessResolver,
	wake *WakeOrchestrator,
	host driven.GameHost,
	status driven.GameStatusChecker,
	watches driven.WatchStore,
	notifier driven.Notifier,
	recorder driven.CampaignRecorder,
	cfg GameConfig,
) *GameService {
	if cfg.HealthAttempts <= 0 {
		cfg.HealthAttempts = 1
	}
	if cfg.AddressAttempts <= 0 {
		cfg.AddressAttempts = 1
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = time.Minute
	}
	return &GameService{
		access:   access,
		wake:     wake,
		host:     host,
		status:   status,
		watches:  watches,
		notifier: notifier,
		recorder: recorder,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Budget is the longest Launch may run: a full wake campaign including its
// final slice, then both polling phases.
func (s *GameService) Budget() time.Duration {
	w := s.wake.Config()
	slice := model.WakeParams{MaxAttempts: w.MaxAttempts, TotalTimeout: w.TotalTimeout}.Slice()
	return w.TotalTimeout + slice +
		time.Duration(s.cfg.HealthAttempts)*s.cfg.HealthInterval +
		time.Duration(s.cfg.AddressAttempts)*s.cfg.AddressInterval
}

// Launch wakes the caller's codespace through its tunnel, starts the game
// server and, when channelID is set and an address is known, registers the
// address for monitoring in that channel. The returned launch carries the
// wake result even when a later step fails.
func (s *GameService) Launch(ctx context.Context, callerID, channelID string) (model.GameLaunch, error) {
	launch, err := s.launch(ctx, callerID, channelID)
	recordAction(s.recorder, "game_start", err)
	return launch, err
}

func (s *GameService) launch(ctx context.Context, callerID, channelID string) (model.GameLaunch, error) {
	access, err := s.access.Authorize(ctx, callerID)
	if err != nil {
		return model.GameLaunch{}, err
	}
	b := access.Binding
	if b.TunnelURL == "" {
		return model.GameLaunch{}, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoTunnel)
	}

	launch := model.GameLaunch{TunnelURL: b.TunnelURL}
	launch.Wake, err = s.wake.Wake(ctx, WakeRequest{
		Token:        access.Credential.Secret,
		ResourceName: b.ResourceName,
		Candidates:   []model.Endpoint{{URL: b.TunnelURL, Kind: model.EndpointSecondary}},
	})
	if err != nil {
		return launch, err
	}
	if launch.Wake.Outcome == model.WakeTimedOut {
		return launch, fmt.Errorf("%w: %s", model.ErrGameHostUnavailable, launch.Wake.Message)
	}

	log := slog.With("codespace", b.ResourceName, "tunnel", b.TunnelURL)

	if err := s.awaitHost(ctx, b.TunnelURL); err != nil {
		return launch, err
	}

	token, err := s.host.FetchToken(ctx, b.TunnelURL)
	if err != nil {
		return launch, fmt.Errorf("%w: fetching token: %w", model.ErrGameHostUnavailable, err)
	}

	launch.Address, err = s.host.StartServer(ctx, b.TunnelURL, token)
	if err != nil {
		return launch, fmt.Errorf("%w: starting game server: %w", model.ErrGameHostUnavailable, err)
	}
	if launch.Address == "" {
		launch.Address = s.awaitAddress(ctx, b.TunnelURL, token)
	}
	log.Info("game server started", "address", launch.Address)

	if launch.Address != "" && channelID != "" {
		err := s.watches.Put(ctx, model.GameWatch{
			Address:   launch.Address,
			OwnerID:   access.OwnerID,
			ChannelID: channelID,
			CreatedAt: s.now(),
		})
		if err != nil {
			log.Error("registering game watch", "address", launch.Address, "error", err)
		}
	}

	if err := s.access.Renew(ctx, access); err != nil {
		log.Error("renewing access after game start", "owner", access.OwnerID, "error", err)
	}

	body := "The game server is starting; its address is not known yet."
	if launch.Address != "" {
		body = fmt.Sprintf("The game server is starting at %s.", launch.Address)
	}
	notifyOwner(ctx, s.notifier, b, driven.Notification{
		Title:    "Game server starting",
		Body:     body + byCaller(callerID, access),
		Severity: driven.SeveritySuccess,
	})
	return launch, nil
}

func (s *GameService) awaitHost(ctx context.Context, baseURL string) error {
	var err error
	for i := range s.cfg.HealthAttempts {
		if err = s.host.Health(ctx, baseURL); err == nil {
			return nil
		}
		slog.Debug("game host not ready", "attempt", i+1, "error", err)
		if i+1 < s.cfg.HealthAttempts && !sleepCtx(ctx, s.cfg.HealthInterval) {
			break
		}
	}
	return fmt.Errorf("%w: health check: %w", model.ErrGameHostUnavailable, err)
}

func (s *GameService) awaitAddress(ctx context.Context, baseURL, token string) string {
	for i := range s.cfg.AddressAttempts {
		addr, err := s.host.ServerAddress(ctx, baseURL, token)
		if err == nil && addr != "" {
			return addr
		}
		slog.Debug("game server address not ready", "attempt", i+1, "error", err)
		if i+1 < s.cfg.AddressAttempts && !sleepCtx(ctx, s.cfg.AddressInterval) {
			break
		}
	}
	return ""
}

// Unwatch stops monitoring every address registered for the caller's owner
// and returns the addresses removed.
func (s *GameService) Unwatch(ctx context.Context, callerID string) ([]string, error) {
	access, err := s.access.Resolve(ctx, callerID)
	if err != nil {
		return nil, err
	}
	if !access.Found() {
		return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoAccess)
	}

	all, err := s.watches.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing game watches: %w", err)
	}

	var removed []string
	for _, w := range all {
		if w.OwnerID != access.OwnerID {
			continue
		}
		if err := s.watches.Delete(ctx, w.Address); err != nil {
			return removed, fmt.Errorf("deleting game watch %s: %w", w.Address, err)
		}
		removed = append(removed, w.Address)
	}
	recordAction(s.recorder, "game_stop", nil)
	return removed, nil
}

// Status queries the public status API for address.
func (s *GameService) Status(ctx context.Context, address string) (*model.GameServerStatus, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: server address required", model.ErrConfiguration)
	}
	st, err := s.status.Check(ctx, address)
	if err != nil {
		return nil, fmt.Errorf("checking %s: %w", address, err)
	}
	return st, nil
}

// Monitor checks every watched address once per MonitorInterval until ctx is
// canceled, posting transitions to each watch's channel.
func (s *GameService) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("game monitor stopped")
			return
		case <-ticker.C:
			if err := s.CheckWatches(ctx); err != nil {
				slog.Error("game monitor cycle failed", "error", err)
			}
		}
	}
}

// CheckWatches runs one monitoring cycle. An unknown previous state counts
// as offline, so a server seen online for the first time is announced.
func (s *GameService) CheckWatches(ctx context.Context) error {
	watches, err := s.watches.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing game watches: %w", err)
	}

	for _, w := range watches {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		st, err := s.status.Check(ctx, w.Address)
		if err != nil {
			slog.Warn("game status check failed", "address", w.Address, "error", err)
			continue
		}

		previous := w.LastOnline != nil && *w.LastOnline
		if w.LastOnline != nil && previous == st.Online {
			continue
		}
		if err := s.watches.SetOnline(ctx, w.Address, st.Online); err != nil {
			slog.Error("storing game status", "address", w.Address, "error", err)
			continue
		}
		if previous == st.Online || s.notifier == nil {
			continue
		}

		n := driven.Notification{
			Title:    "Game server online",
			Body:     fmt.Sprintf("%s is online and accepting connections.", w.Address),
			Severity: driven.SeveritySuccess,
		}
		if !st.Online {
			n = driven.Notification{
				Title:    "Game server offline",
				Body:     fmt.Sprintf("%s is offline.", w.Address),
				Severity: driven.SeverityWarning,
			}
		}
		if err := s.notifier.NotifyChannel(ctx, w.ChannelID, n); err != nil {
			slog.Warn("game status notification failed", "address", w.Address, "error", err)
		}
	}
	return nil
}

// sleepCtx waits d. It reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
