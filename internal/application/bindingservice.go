package application

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// SetupResult reports what /setup configured.
type SetupResult struct {
	Login      string
	Binding    model.Binding
	Credential model.Credential
	// Codespaces lists everything the token can see, for display.
	Codespaces []model.Resource
	// Provision is nil when the codespace has no repository to provision.
	Provision    *driven.ProvisionReport
	ProvisionErr error
}

// TunnelReport is what the startup script inside a codespace posts once its
// tunnel is up.
type TunnelReport struct {
	OwnerID      string
	ResourceName string
	TunnelURL    string
}

// BindingService manages owner configuration: credentials, the bound
// codespace, delegates and notification preferences.
type BindingService struct {
	bindings      driven.BindingStore
	credentials   driven.CredentialStore
	client        driven.ManagementClient
	provisioner   driven.RepoProvisioner
	notifier      driven.Notifier
	webhookURL    string
	credentialTTL time.Duration
	bindingTTL    time.Duration
	now           func() time.Time
}

// NewBindingService creates a BindingService. provisioner and notifier may be
// nil; webhookURL is templated into the provisioned startup script.
func NewBindingService(
	bindings driven.BindingStore,
	credentials driven.CredentialStore,
	client driven.ManagementClient,
	provisioner driven.RepoProvisioner,
	notifier driven.Notifier,
	webhookURL string,
	credentialTTL time.Duration,
	bindingTTL time.Duration,
) *BindingService {
	return &BindingService{
		bindings:      bindings,
		credentials:   credentials,
		client:        client,
		provisioner:   provisioner,
		notifier:      notifier,
		webhookURL:    webhookURL,
		credentialTTL: credentialTTL,
		bindingTTL:    bindingTTL,
		now:           time.Now,
	}
}

// Setup validates token, binds the named codespace (or the first one the
// token can see), stores the credential and provisions the codespace's
// repository. A provisioning failure is reported in the result, not returned:
// the credential and binding are already usable without it.
func (s *BindingService) Setup(ctx context.Context, ownerID, token, codespace string) (SetupResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SetupResult{}, fmt.Errorf("%w: empty token", model.ErrConfiguration)
	}

	login, err := s.client.ValidateToken(ctx, token)
	if err != nil {
		return SetupResult{}, fmt.Errorf("%w: validating token: %w", model.ErrUpstreamRejection, err)
	}

	list, err := s.client.List(ctx, token)
	if err != nil {
		return SetupResult{}, fmt.Errorf("%w: listing codespaces for %s: %w", model.ErrUpstreamRejection, login, err)
	}

	chosen, err := pickCodespace(list, codespace)
	if err != nil {
		return SetupResult{}, err
	}

	now := s.now()
	cred := model.Credential{
		OwnerID:      ownerID,
		Secret:       token,
		IssuedAt:     now,
		ResourceName: chosen.Name,
		GitHubLogin:  login,
		RepoFullName: chosen.RepoFullName,
		UpdatedAt:    now,
	}
	if s.credentialTTL > 0 {
		exp := now.Add(s.credentialTTL)
		cred.ExpiresAt = &exp
	}
	if err := s.credentials.Put(ctx, cred); err != nil {
		return SetupResult{}, fmt.Errorf("storing credential for %s: %w", ownerID, err)
	}

	binding, err := s.bindTo(ctx, ownerID, chosen)
	if err != nil {
		return SetupResult{}, err
	}

	result := SetupResult{Login: login, Binding: binding, Credential: cred, Codespaces: list}

	if s.provisioner != nil && chosen.RepoFullName != "" {
		report, err := s.provisioner.Provision(ctx, token, chosen.RepoFullName, driven.ProvisionOptions{
			OwnerID:    ownerID,
			WebhookURL: s.webhookURL,
		})
		result.Provision = &report
		if err != nil {
			result.ProvisionErr = err
			slog.Warn("repository provisioning failed", "owner", ownerID, "repo", chosen.RepoFullName, "error", err)
		}
	}

	slog.Info("owner configured", "owner", ownerID, "login", login, "codespace", chosen.Name)
	return result, nil
}

// Bind points the owner's binding at codespace, which must exist for the
// owner's credential. Delegates carry over; the previous codespace moves to
// history.
func (s *BindingService) Bind(ctx context.Context, ownerID, codespace string) (model.Binding, error) {
	codespace = strings.TrimSpace(codespace)
	if codespace == "" {
		return model.Binding{}, fmt.Errorf("%w: codespace name required", model.ErrConfiguration)
	}

	cred, err := s.credentials.Get(ctx, ownerID)
	if err != nil {
		return model.Binding{}, fmt.Errorf("loading credential for %s: %w", ownerID, err)
	}
	if !cred.IsValid(s.now()) {
		return model.Binding{}, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrCredentialExpired)
	}

	res, err := s.client.Describe(ctx, cred.Secret, codespace)
	if err != nil {
		return model.Binding{}, fmt.Errorf("%w: describing %s: %w", model.ErrUpstreamRejection, codespace, err)
	}
	if res.Name == "" {
		res.Name = codespace
	}

	binding, err := s.bindTo(ctx, ownerID, *res)
	if err != nil {
		return model.Binding{}, err
	}

	cred.ResourceName = res.Name
	if res.RepoFullName != "" {
		cred.RepoFullName = res.RepoFullName
	}
	cred.UpdatedAt = s.now()
	if err := s.credentials.Put(ctx, *cred); err != nil {
		return model.Binding{}, fmt.Errorf("updating credential for %s: %w", ownerID, err)
	}

	return binding, nil
}

func (s *BindingService) bindTo(ctx context.Context, ownerID string, res model.Resource) (model.Binding, error) {
	existing, err := s.bindings.Get(ctx, ownerID)
	if err != nil {
		return model.Binding{}, fmt.Errorf("loading binding for %s: %w", ownerID, err)
	}

	now := s.now()
	b := model.Binding{
		OwnerID:   ownerID,
		Notify:    model.NotificationPrefs{Mode: model.NotifyDM},
		CreatedAt: now,
	}
	if existing != nil {
		b = *existing
	}
	b.Rebind(res.Name)
	b.ResourceURL = res.WebURL
	b.Renew(now, s.bindingTTL)

	if err := s.bindings.Put(ctx, b); err != nil {
		return model.Binding{}, fmt.Errorf("storing binding for %s: %w", ownerID, err)
	}
	slog.Info("codespace bound", "owner", ownerID, "codespace", b.ResourceName)
	return b, nil
}

// Unbind removes the owner's binding and with it every delegation. The
// credential is kept so the owner can bind again without a new token.
func (s *BindingService) Unbind(ctx context.Context, ownerID string) error {
	if _, err := s.ownBinding(ctx, ownerID); err != nil {
		return err
	}
	if err := s.bindings.Delete(ctx, ownerID); err != nil {
		return fmt.Errorf("deleting binding for %s: %w", ownerID, err)
	}
	slog.Info("codespace unbound", "owner", ownerID)
	return nil
}

// Grant lets delegateID operate the owner's codespace.
func (s *BindingService) Grant(ctx context.Context, ownerID, delegateID string) (model.Binding, error) {
	return s.updateDelegates(ctx, ownerID, func(b *model.Binding) error {
		return b.AddDelegate(delegateID)
	})
}

// Revoke withdraws a grant.
func (s *BindingService) Revoke(ctx context.Context, ownerID, delegateID string) (model.Binding, error) {
	return s.updateDelegates(ctx, ownerID, func(b *model.Binding) error {
		return b.RemoveDelegate(delegateID)
	})
}

func (s *BindingService) updateDelegates(ctx context.Context, ownerID string, change func(*model.Binding) error) (model.Binding, error) {
	b, err := s.ownBinding(ctx, ownerID)
	if err != nil {
		return model.Binding{}, err
	}
	if err := change(b); err != nil {
		return *b, err
	}
	b.UpdatedAt = s.now()
	if err := s.bindings.Put(ctx, *b); err != nil {
		return model.Binding{}, fmt.Errorf("storing binding for %s: %w", ownerID, err)
	}
	slog.Info("delegates updated", "owner", ownerID, "delegates", len(b.Delegates))
	return *b, nil
}

// Binding returns the owner's own binding, or model.ErrNotBound.
func (s *BindingService) Binding(ctx context.Context, ownerID string) (model.Binding, error) {
	b, err := s.ownBinding(ctx, ownerID)
	if err != nil {
		return model.Binding{}, err
	}
	return *b, nil
}

// SetNotifications changes where the owner hears about their codespace.
func (s *BindingService) SetNotifications(ctx context.Context, ownerID, mode, channelID string) (model.Binding, error) {
	m, err := model.ParseNotificationMode(mode)
	if err != nil {
		return model.Binding{}, fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
	if m == model.NotifyChannel && channelID == "" {
		return model.Binding{}, fmt.Errorf("%w: channel mode needs a channel", model.ErrConfiguration)
	}
	if m != model.NotifyChannel {
		channelID = ""
	}

	b, err := s.ownBinding(ctx, ownerID)
	if err != nil {
		return model.Binding{}, err
	}
	b.Notify = model.NotificationPrefs{Mode: m, ChannelID: channelID}
	b.UpdatedAt = s.now()
	if err := s.bindings.Put(ctx, *b); err != nil {
		return model.Binding{}, fmt.Errorf("storing binding for %s: %w", ownerID, err)
	}
	return *b, nil
}

// RecordTunnel stores the tunnel URL a codespace reported and tells the
// owner. Reports for a codespace other than the bound one are rejected so a
// stale machine cannot overwrite the current tunnel.
func (s *BindingService) RecordTunnel(ctx context.Context, report TunnelReport) (model.Binding, error) {
	u, err := url.Parse(strings.TrimSpace(report.TunnelURL))
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return model.Binding{}, fmt.Errorf("%w: invalid tunnel url %q", model.ErrConfiguration, report.TunnelURL)
	}

	b, err := s.ownBinding(ctx, report.OwnerID)
	if err != nil {
		return model.Binding{}, err
	}
	if report.ResourceName != "" && report.ResourceName != b.ResourceName {
		return model.Binding{}, fmt.Errorf("%w: tunnel reported by %s but %s is bound",
			model.ErrConfiguration, report.ResourceName, b.ResourceName)
	}

	b.TunnelURL = strings.TrimRight(u.String(), "/")
	b.UpdatedAt = s.now()
	if err := s.bindings.Put(ctx, *b); err != nil {
		return model.Binding{}, fmt.Errorf("storing tunnel for %s: %w", report.OwnerID, err)
	}
	slog.Info("tunnel recorded", "owner", b.OwnerID, "codespace", b.ResourceName, "tunnel", b.TunnelURL)

	notifyOwner(ctx, s.notifier, b, driven.Notification{
		Title:    "Tunnel ready",
		Body:     fmt.Sprintf("%s is reachable at %s", b.ResourceName, b.TunnelURL),
		Severity: driven.SeveritySuccess,
	})
	return *b, nil
}

func (s *BindingService) ownBinding(ctx context.Context, ownerID string) (*model.Binding, error) {
	b, err := s.bindings.Get(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("loading binding for %s: %w", ownerID, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNotBound)
	}
	return b, nil
}

func pickCodespace(list []model.Resource, name string) (model.Resource, error) {
	if len(list) == 0 {
		return model.Resource{}, fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoResource)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return list[0], nil
	}
	for _, r := range list {
		if r.Name == name {
			return r, nil
		}
	}
	return model.Resource{}, fmt.Errorf("%w: codespace %q not visible to this token", model.ErrConfiguration, name)
}
