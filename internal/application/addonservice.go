package application

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// AddonService drains the event queues of the addon running inside each
// bound codespace and forwards the events to the binding's owner.
type AddonService struct {
	bindings driven.BindingStore
	source   driven.AddonEventSource
	notifier driven.Notifier
	interval time.Duration
	now      func() time.Time

	mu    sync.Mutex
	stats model.AddonStats
}

// NewAddonService creates an AddonService polling every interval. notifier
// may be nil.
func NewAddonService(
	bindings driven.BindingStore,
	source driven.AddonEventSource,
	notifier driven.Notifier,
	interval time.Duration,
) *AddonService {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &AddonService{
		bindings: bindings,
		source:   source,
		notifier: notifier,
		interval: interval,
		now:      time.Now,
	}
}

// Monitor polls once per interval until ctx is canceled.
func (s *AddonService) Monitor(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("addon event poller stopped")
			return
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil {
				slog.Error("addon poll cycle failed", "error", err)
			}
		}
	}
}

// Poll runs one cycle over every binding with a reported tunnel. An
// unreachable codespace is normal while it sleeps and is only logged.
func (s *AddonService) Poll(ctx context.Context) error {
	all, err := s.bindings.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing bindings: %w", err)
	}

	// One poll per tunnel; the lowest owner ID reporting it receives its events.
	slices.SortStableFunc(all, func(a, b model.Binding) int {
		return strings.Compare(a.OwnerID, b.OwnerID)
	})
	seen := make(map[string]bool)
	var targets []model.Binding
	for _, b := range all {
		url := strings.TrimRight(b.TunnelURL, "/")
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		targets = append(targets, b)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i := range targets {
		b := &targets[i]
		g.Go(func() error {
			s.pollOne(gctx, b)
			return nil
		})
	}
	_ = g.Wait()

	sources := make([]string, 0, len(targets))
	for _, b := range targets {
		sources = append(sources, b.TunnelURL)
	}
	s.mu.Lock()
	s.stats.LastPoll = s.now()
	s.stats.Sources = sources
	s.mu.Unlock()
	return nil
}

func (s *AddonService) pollOne(ctx context.Context, b *model.Binding) {
	log := slog.With("owner", b.OwnerID, "tunnel", b.TunnelURL)

	events, err := s.source.Events(ctx, b.TunnelURL)
	if err != nil {
		log.Debug("addon events unavailable", "error", err)
		return
	}
	if len(events) == 0 {
		return
	}
	log.Info("addon events received", "count", len(events))
	s.count(func(st *model.AddonStats) { st.Polled += len(events) })

	for _, ev := range events {
		n, ok := addonNotification(b.ResourceName, ev)
		if !ok {
			log.Warn("unknown addon event", "id", ev.ID, "type", ev.Type)
			if err := s.source.MarkFailed(ctx, b.TunnelURL, ev.ID, fmt.Sprintf("unknown event type %q", ev.Type)); err != nil {
				log.Warn("marking addon event failed", "id", ev.ID, "error", err)
			}
			s.count(func(st *model.AddonStats) { st.Failed++ })
			continue
		}

		notifyOwner(ctx, s.notifier, b, n)
		if err := s.source.MarkProcessed(ctx, b.TunnelURL, ev.ID); err != nil {
			log.Warn("marking addon event processed", "id", ev.ID, "error", err)
		}
		s.count(func(st *model.AddonStats) { st.Processed++ })
	}
}

func (s *AddonService) count(update func(*model.AddonStats)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.stats)
}

// Stats returns a snapshot of the counters.
func (s *AddonService) Stats() model.AddonStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.Sources = slices.Clone(s.stats.Sources)
	return st
}

// addonNotification renders ev. It reports false for event types it does not
// know.
func addonNotification(resource string, ev model.AddonEvent) (driven.Notification, bool) {
	p := ev.Payload
	codespace := payloadString(p, "codespace_name", resource)

	switch ev.Type {
	case model.AddonBackupError:
		return driven.Notification{
			Title: "Backup failed",
			Body: fmt.Sprintf("%s (%s): %s", codespace,
				payloadString(p, "error_type", "general"),
				payloadString(p, "error_message", "unknown error")),
			Severity: driven.SeverityError,
		}, true

	case model.AddonBackupSuccess:
		return driven.Notification{
			Title: "Backup completed",
			Body: fmt.Sprintf("%s: `%s`, %.2f MB in %.1fs.", codespace,
				payloadString(p, "backup_file", "unknown"),
				payloadNumber(p, "size_mb"),
				payloadNumber(p, "duration_seconds")),
			Severity: driven.SeveritySuccess,
		}, true

	case model.AddonGameStatus:
		status := payloadString(p, "status", "unknown")
		n := driven.Notification{
			Title:    "Game server " + status,
			Severity: driven.SeverityWarning,
		}
		if status == "online" {
			n.Severity = driven.SeveritySuccess
		}
		var parts []string
		if ip := payloadString(p, "ip", ""); ip != "" {
			if port := int(payloadNumber(p, "port")); port != 0 && port != 25565 {
				ip = fmt.Sprintf("%s:%d", ip, port)
			}
			parts = append(parts, fmt.Sprintf("Address `%s`.", ip))
		}
		if status == "online" {
			parts = append(parts, fmt.Sprintf("%d player(s) online.", int(payloadNumber(p, "players_online"))))
		}
		n.Body = strings.Join(parts, " ")
		if n.Body == "" {
			n.Body = codespace
		}
		return n, true

	case model.AddonCodespaceStatus:
		action := payloadString(p, "action", "unknown")
		n := driven.Notification{
			Title:    "Codespace " + action,
			Body:     codespace,
			Severity: driven.SeverityError,
		}
		if action == "started" {
			n.Severity = driven.SeveritySuccess
		}
		if details, ok := p["details"].(map[string]any); ok && len(details) > 0 {
			keys := make([]string, 0, len(details))
			for k := range details {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			lines := []string{n.Body}
			for _, k := range keys {
				lines = append(lines, fmt.Sprintf("%s: %v", strings.ReplaceAll(k, "_", " "), details[k]))
			}
			n.Body = strings.Join(lines, "\n")
		}
		return n, true
	}
	return driven.Notification{}, false
}

func payloadString(p map[string]any, key, fallback string) string {
	if v, ok := p[key]; ok && v != nil {
		if s := fmt.Sprint(v); s != "" {
			return s
		}
	}
	return fallback
}

func payloadNumber(p map[string]any, key string) float64 {
	f, _ := p[key].(float64)
	return f
}
