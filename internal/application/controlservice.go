package application

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// StartResult is the outcome of a start command.
type StartResult struct {
	Access model.Access
	Wake   model.WakeResult
}

// StatusResult is the outcome of a status command.
type StatusResult struct {
	Access   model.Access
	Resource model.Resource
}

// ControlService runs the start, stop and status commands for the owner of a
// binding or any of its delegates.
type ControlService struct {
	access   *AccessResolver
	wake     *WakeOrchestrator
	client   driven.ManagementClient
	bindings driven.BindingStore
	notifier driven.Notifier
	recorder driven.CampaignRecorder
}

// NewControlService creates a ControlService. notifier and recorder may be nil.
func NewControlService(
	access *AccessResolver,
	wake *WakeOrchestrator,
	client driven.ManagementClient,
	bindings driven.BindingStore,
	notifier driven.Notifier,
	recorder driven.CampaignRecorder,
) *ControlService {
	return &ControlService{
		access:   access,
		wake:     wake,
		client:   client,
		bindings: bindings,
		notifier: notifier,
		recorder: recorder,
	}
}

// Start wakes the caller's codespace. The binding's cached URL is the
// authoritative probe target and the reported tunnel the secondary one.
// A campaign that timed out is not an error; the result says so.
func (s *ControlService) Start(ctx context.Context, callerID string) (StartResult, error) {
	access, err := s.access.Authorize(ctx, callerID)
	if err != nil {
		recordAction(s.recorder, "start", err)
		return StartResult{Access: access}, err
	}
	b := access.Binding

	var candidates []model.Endpoint
	if b.ResourceURL != "" {
		candidates = append(candidates, model.Endpoint{URL: b.ResourceURL, Kind: model.EndpointAuthoritative})
	}
	if b.TunnelURL != "" {
		candidates = append(candidates, model.Endpoint{URL: b.TunnelURL, Kind: model.EndpointSecondary})
	}

	result, err := s.wake.Wake(ctx, WakeRequest{
		Token:        access.Credential.Secret,
		ResourceName: b.ResourceName,
		Candidates:   candidates,
	})
	recordAction(s.recorder, "start", err)
	if err != nil {
		return StartResult{Access: access}, err
	}

	discovered := result.DiscoveredURL != "" && result.DiscoveredURL != b.ResourceURL
	if discovered {
		b.ResourceURL = result.DiscoveredURL
	}
	if result.Outcome != model.WakeTimedOut {
		if err := s.access.Renew(ctx, access); err != nil {
			slog.Error("renewing access after start", "owner", access.OwnerID, "error", err)
		}
	} else if discovered {
		if err := s.bindings.Put(ctx, *b); err != nil {
			slog.Error("caching discovered url", "owner", access.OwnerID, "error", err)
		}
	}

	notifyOwner(ctx, s.notifier, b, startNotification(callerID, access, result))
	return StartResult{Access: access, Wake: result}, nil
}

// Stop shuts the caller's codespace down.
func (s *ControlService) Stop(ctx context.Context, callerID string) (model.Access, error) {
	access, err := s.access.Authorize(ctx, callerID)
	if err != nil {
		recordAction(s.recorder, "stop", err)
		return access, err
	}
	name := access.ResourceName()

	if err := s.client.Stop(ctx, access.Credential.Secret, name); err != nil {
		err = fmt.Errorf("%w: stopping %s: %w", model.ErrUpstreamRejection, name, err)
		recordAction(s.recorder, "stop", err)
		return access, err
	}
	recordAction(s.recorder, "stop", nil)
	slog.Info("codespace stopped", "codespace", name, "caller", callerID, "owner", access.OwnerID)

	if err := s.access.Renew(ctx, access); err != nil {
		slog.Error("renewing access after stop", "owner", access.OwnerID, "error", err)
	}

	notifyOwner(ctx, s.notifier, access.Binding, driven.Notification{
		Title:    "Codespace stopped",
		Body:     fmt.Sprintf("%s was stopped%s.", name, byCaller(callerID, access)),
		Severity: driven.SeverityInfo,
	})
	return access, nil
}

// Status describes the caller's codespace. It never mutates stored state.
func (s *ControlService) Status(ctx context.Context, callerID string) (StatusResult, error) {
	access, err := s.access.Authorize(ctx, callerID)
	if err != nil {
		return StatusResult{Access: access}, err
	}
	name := access.ResourceName()

	res, err := s.client.Describe(ctx, access.Credential.Secret, name)
	if err != nil {
		return StatusResult{Access: access}, fmt.Errorf("%w: describing %s: %w", model.ErrUpstreamRejection, name, err)
	}
	return StatusResult{Access: access, Resource: *res}, nil
}

// Info returns the caller's access without checking or renewing its
// windows, so an expired binding or credential can still be inspected.
func (s *ControlService) Info(ctx context.Context, callerID string) (model.Access, error) {
	access, err := s.access.Resolve(ctx, callerID)
	if err != nil {
		return access, err
	}
	if !access.Found() {
		return access, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoAccess)
	}
	return access, nil
}

func startNotification(callerID string, access model.Access, r model.WakeResult) driven.Notification {
	n := driven.Notification{Body: r.Message + byCaller(callerID, access)}
	switch r.Outcome {
	case model.WakeReady:
		n.Title, n.Severity = "Codespace ready", driven.SeveritySuccess
	case model.WakeReachableUnconfirmed:
		n.Title, n.Severity = "Codespace responding", driven.SeverityWarning
	default:
		n.Title, n.Severity = "Codespace did not wake", driven.SeverityError
	}
	return n
}

func byCaller(callerID string, access model.Access) string {
	if !access.Delegated {
		return ""
	}
	return fmt.Sprintf(" (requested by <@%s>)", callerID)
}
