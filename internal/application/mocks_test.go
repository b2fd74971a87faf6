package application_test

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- Stores ---

type memBindingStore struct {
	mu       sync.Mutex
	bindings map[string]model.Binding
	putErr   error
}

func newMemBindingStore(bs ...model.Binding) *memBindingStore {
	s := &memBindingStore{bindings: map[string]model.Binding{}}
	for _, b := range bs {
		s.bindings[b.OwnerID] = b
	}
	return s
}

func (s *memBindingStore) Get(_ context.Context, ownerID string) (*model.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[ownerID]
	if !ok {
		return nil, nil
	}
	b.Delegates = slices.Clone(b.Delegates)
	b.History = slices.Clone(b.History)
	return &b, nil
}

func (s *memBindingStore) Put(_ context.Context, b model.Binding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return s.putErr
	}
	b.Delegates = slices.Clone(b.Delegates)
	b.History = slices.Clone(b.History)
	s.bindings[b.OwnerID] = b
	return nil
}

func (s *memBindingStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bindings, ownerID)
	return nil
}

// ListAll deliberately returns bindings in descending owner order so callers
// that depend on ordering must sort.
func (s *memBindingStore) ListAll(_ context.Context) ([]model.Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		b.Delegates = slices.Clone(b.Delegates)
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b model.Binding) int { return strings.Compare(b.OwnerID, a.OwnerID) })
	return out, nil
}

func (s *memBindingStore) get(ownerID string) (model.Binding, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bindings[ownerID]
	return b, ok
}

type memCredentialStore struct {
	mu    sync.Mutex
	creds map[string]model.Credential
}

func newMemCredentialStore(cs ...model.Credential) *memCredentialStore {
	s := &memCredentialStore{creds: map[string]model.Credential{}}
	for _, c := range cs {
		s.creds[c.OwnerID] = c
	}
	return s
}

func (s *memCredentialStore) Get(_ context.Context, ownerID string) (*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[ownerID]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memCredentialStore) Put(_ context.Context, c model.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[c.OwnerID] = c
	return nil
}

func (s *memCredentialStore) Delete(_ context.Context, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, ownerID)
	return nil
}

func (s *memCredentialStore) ListAll(_ context.Context) ([]model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Credential, 0, len(s.creds))
	for _, c := range s.creds {
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b model.Credential) int { return strings.Compare(a.OwnerID, b.OwnerID) })
	return out, nil
}

func (s *memCredentialStore) get(ownerID string) (model.Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[ownerID]
	return c, ok
}

// --- Management API ---

type fakeManagement struct {
	mu        sync.Mutex
	startErr  error
	stopErr   error
	describe  func(call int) (*model.Resource, error)
	list      []model.Resource
	login     string
	tokenErr  error
	starts    int
	stops     int
	describes int
	// stallStart makes Start hang until its context ends.
	stallStart bool
	// stallDescribes makes the first n Describe calls hang until their
	// context ends.
	stallDescribes int
}

func (f *fakeManagement) Start(ctx context.Context, _, _ string) error {
	f.mu.Lock()
	f.starts++
	stall, err := f.stallStart, f.startErr
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return fmt.Errorf("POST start: %w", ctx.Err())
	}
	return err
}

func (f *fakeManagement) Stop(_ context.Context, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return f.stopErr
}

func (f *fakeManagement) Describe(ctx context.Context, _, name string) (*model.Resource, error) {
	f.mu.Lock()
	f.describes++
	call := f.describes
	fn := f.describe
	stall := call <= f.stallDescribes
	f.mu.Unlock()
	if stall {
		<-ctx.Done()
		return nil, fmt.Errorf("GET codespace: %w", ctx.Err())
	}
	if fn == nil {
		return &model.Resource{Name: name, State: model.ResourceStateAvailable}, nil
	}
	return fn(call)
}

func (f *fakeManagement) List(_ context.Context, _ string) ([]model.Resource, error) {
	return f.list, nil
}

func (f *fakeManagement) ValidateToken(_ context.Context, _ string) (string, error) {
	return f.login, f.tokenErr
}

func (f *fakeManagement) counts() (starts, stops, describes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.describes
}

// stateAlways describes the codespace in a fixed state.
func stateAlways(state model.ResourceState) func(int) (*model.Resource, error) {
	return func(int) (*model.Resource, error) {
		return &model.Resource{Name: "cs", State: state, WebURL: "https://cs.github.dev"}, nil
	}
}

// --- Prober ---

// scriptedProber answers per URL from a list of status codes, one per call.
// Status 0 simulates a transport timeout by blocking until the probe's
// deadline. Calls past the end of a script repeat its last entry.
type scriptedProber struct {
	mu      sync.Mutex
	scripts map[string][]int
	calls   map[string]int
}

func newScriptedProber(scripts map[string][]int) *scriptedProber {
	return &scriptedProber{scripts: scripts, calls: map[string]int{}}
}

func (p *scriptedProber) Probe(ctx context.Context, ep model.Endpoint, timeout time.Duration) model.ProbeOutcome {
	p.mu.Lock()
	script := p.scripts[ep.URL]
	n := p.calls[ep.URL]
	p.calls[ep.URL] = n + 1
	p.mu.Unlock()

	status := 0
	if len(script) > 0 {
		status = script[min(n, len(script)-1)]
	}
	if status != 0 {
		return model.ProbeOutcome{Endpoint: ep, StatusCode: status}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	<-ctx.Done()
	return model.ProbeOutcome{Endpoint: ep, Err: ctx.Err(), Duration: timeout}
}

func (p *scriptedProber) callCount(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[url]
}

// --- Recorders and notifiers ---

type fakeRecorder struct {
	mu        sync.Mutex
	campaigns []model.WakeResult
	actions   map[string]int
}

func (r *fakeRecorder) RecordCampaign(result model.WakeResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns = append(r.campaigns, result)
}

func (r *fakeRecorder) RecordAction(action string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.actions == nil {
		r.actions = map[string]int{}
	}
	key := action + ":ok"
	if err != nil {
		key = action + ":error"
	}
	r.actions[key]++
}

type sentNote struct {
	target string
	note   driven.Notification
}

type fakeNotifier struct {
	mu      sync.Mutex
	err     error
	users   []sentNote
	channel []sentNote
}

func (n *fakeNotifier) NotifyUser(_ context.Context, userID string, note driven.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, sentNote{userID, note})
	return n.err
}

func (n *fakeNotifier) NotifyChannel(_ context.Context, channelID string, note driven.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.channel = append(n.channel, sentNote{channelID, note})
	return n.err
}

func (n *fakeNotifier) sent() (users, channel []sentNote) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.users), slices.Clone(n.channel)
}

var errBoom = errors.New("boom")

// --- Provisioning ---

type fakeProvisioner struct {
	mu     sync.Mutex
	report driven.ProvisionReport
	err    error
	calls  []provisionCall
}

type provisionCall struct {
	token string
	repo  string
	opts  driven.ProvisionOptions
}

func (p *fakeProvisioner) Provision(_ context.Context, token, repo string, opts driven.ProvisionOptions) (driven.ProvisionReport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, provisionCall{token, repo, opts})
	return p.report, p.err
}

// --- Game host and status ---

type fakeGameHost struct {
	mu           sync.Mutex
	healthyAfter int // Health fails this many times first
	healthCalls  int
	token        string
	tokenErr     error
	startAddr    string
	startErr     error
	address      string
	addressCalls int
	startedWith  string
}

func (h *fakeGameHost) Health(_ context.Context, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthCalls++
	if h.healthCalls <= h.healthyAfter {
		return errors.New("connection refused")
	}
	return nil
}

func (h *fakeGameHost) FetchToken(_ context.Context, _ string) (string, error) {
	return h.token, h.tokenErr
}

func (h *fakeGameHost) StartServer(_ context.Context, _, token string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.startedWith = token
	return h.startAddr, h.startErr
}

func (h *fakeGameHost) ServerAddress(_ context.Context, _, _ string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.addressCalls++
	if h.address == "" {
		return "", errors.New("no address yet")
	}
	return h.address, nil
}

type fakeStatusChecker struct {
	mu     sync.Mutex
	online map[string]bool
	err    error
}

func (c *fakeStatusChecker) Check(_ context.Context, address string) (*model.GameServerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	return &model.GameServerStatus{Address: address, Online: c.online[address]}, nil
}

func (c *fakeStatusChecker) set(address string, online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online[address] = online
}

type memWatchStore struct {
	mu      sync.Mutex
	watches map[string]model.GameWatch
}

func newMemWatchStore(ws ...model.GameWatch) *memWatchStore {
	s := &memWatchStore{watches: map[string]model.GameWatch{}}
	for _, w := range ws {
		s.watches[w.Address] = w
	}
	return s
}

func (s *memWatchStore) Put(_ context.Context, w model.GameWatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[w.Address] = w
	return nil
}

func (s *memWatchStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watches, address)
	return nil
}

func (s *memWatchStore) ListAll(_ context.Context) ([]model.GameWatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GameWatch, 0, len(s.watches))
	for _, w := range s.watches {
		out = append(out, w)
	}
	slices.SortFunc(out, func(a, b model.GameWatch) int { return strings.Compare(a.Address, b.Address) })
	return out, nil
}

func (s *memWatchStore) SetOnline(_ context.Context, address string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[address]
	if !ok {
		return nil
	}
	w.LastOnline = &online
	s.watches[address] = w
	return nil
}

func (s *memWatchStore) get(address string) (model.GameWatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[address]
	return w, ok
}

type fakeEventSource struct {
	mu        sync.Mutex
	events    map[string][]model.AddonEvent // by tunnel URL, drained on read
	err       map[string]error
	processed []int64
	failed    map[int64]string
	polled    []string
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{
		events: map[string][]model.AddonEvent{},
		err:    map[string]error{},
		failed: map[int64]string{},
	}
}

func (f *fakeEventSource) Events(_ context.Context, baseURL string) ([]model.AddonEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polled = append(f.polled, baseURL)
	if err := f.err[baseURL]; err != nil {
		return nil, err
	}
	evs := f.events[baseURL]
	delete(f.events, baseURL)
	return evs, nil
}

func (f *fakeEventSource) MarkProcessed(_ context.Context, _ string, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeEventSource) MarkFailed(_ context.Context, _ string, id int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed[id] = reason
	return nil
}
