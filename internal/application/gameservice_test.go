package application_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/spacewake/internal/application"
	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

type gameFixture struct {
	bindings *memBindingStore
	mgmt     *fakeManagement
	prober   *scriptedProber
	host     *fakeGameHost
	status   *fakeStatusChecker
	watches  *memWatchStore
	notifier *fakeNotifier
	recorder *fakeRecorder
	svc      *application.GameService
}

func newGameFixture(b model.Binding) *gameFixture {
	return newGameFixtureWith(b, application.GameConfig{
		HealthAttempts:  3,
		HealthInterval:  time.Millisecond,
		AddressAttempts: 3,
		AddressInterval: time.Millisecond,
		MonitorInterval: 10 * time.Millisecond,
	})
}

func newGameFixtureWith(b model.Binding, cfg application.GameConfig) *gameFixture {
	f := &gameFixture{
		bindings: newMemBindingStore(b),
		mgmt:     &fakeManagement{describe: stateAlways(model.ResourceStateAvailable)},
		prober:   newScriptedProber(map[string][]int{tunnelURL: {http.StatusOK}}),
		host:     &fakeGameHost{token: "secret-token", address: "mc.example.net:25565"},
		status:   &fakeStatusChecker{online: map[string]bool{}},
		watches:  newMemWatchStore(),
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
	}
	creds := newMemCredentialStore(ownerCredential(b.OwnerID))
	access := application.NewAccessResolver(f.bindings, creds, time.Hour, 0)
	wake := application.NewWakeOrchestrator(f.mgmt, f.prober, nil, wakeConfig(3, 150*time.Millisecond))
	f.svc = application.NewGameService(access, wake, f.host, f.status, f.watches, f.notifier, f.recorder, cfg)
	return f
}

func tunnelBinding(delegates ...string) model.Binding {
	b := ownerBinding("A", "cs", delegates...)
	b.TunnelURL = tunnelURL
	return b
}

func TestGameLaunch(t *testing.T) {
	f := newGameFixture(tunnelBinding("B"))
	f.host.healthyAfter = 2

	launch, err := f.svc.Launch(context.Background(), "B", "chan-1")

	require.NoError(t, err)
	assert.Equal(t, model.WakeReady, launch.Wake.Outcome)
	assert.Equal(t, tunnelURL, launch.TunnelURL)
	assert.Equal(t, "mc.example.net:25565", launch.Address)
	assert.Equal(t, 3, f.host.healthCalls)
	assert.Equal(t, "secret-token", f.host.startedWith)

	w, ok := f.watches.get("mc.example.net:25565")
	require.True(t, ok)
	assert.Equal(t, "A", w.OwnerID)
	assert.Equal(t, "chan-1", w.ChannelID)

	users, _ := f.notifier.sent()
	require.Len(t, users, 1)
	assert.Contains(t, users[0].note.Body, "mc.example.net")
	assert.Equal(t, 1, f.recorder.actions["game_start:ok"])
}

func TestGameBudget(t *testing.T) {
	f := newGameFixtureWith(tunnelBinding(), application.GameConfig{
		HealthAttempts:  4,
		HealthInterval:  10 * time.Millisecond,
		AddressAttempts: 2,
		AddressInterval: 5 * time.Millisecond,
	})

	// 150ms wake budget plus a 50ms slice, 40ms of health polling and 10ms
	// of address polling.
	assert.Equal(t, 250*time.Millisecond, f.svc.Budget())
}

func TestGameLaunch_HostHealthyAfterWakeBudget(t *testing.T) {
	f := newGameFixtureWith(tunnelBinding(), application.GameConfig{
		HealthAttempts:  12,
		HealthInterval:  25 * time.Millisecond,
		AddressAttempts: 3,
		AddressInterval: time.Millisecond,
	})
	f.host.healthyAfter = 9

	ctx, cancel := context.WithTimeout(context.Background(), f.svc.Budget())
	defer cancel()

	start := time.Now()
	launch, err := f.svc.Launch(ctx, "A", "")

	require.NoError(t, err, "a launch bounded by its budget outlasts the wake budget")
	assert.Greater(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, "mc.example.net:25565", launch.Address)
	assert.Equal(t, 10, f.host.healthCalls)
}

func TestGameLaunch_AddressFromStartResponse(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	f.host.startAddr = "direct.example.net"

	launch, err := f.svc.Launch(context.Background(), "A", "")

	require.NoError(t, err)
	assert.Equal(t, "direct.example.net", launch.Address)
	assert.Zero(t, f.host.addressCalls)
	all, _ := f.watches.ListAll(context.Background())
	assert.Empty(t, all, "no channel, no watch")
}

func TestGameLaunch_AddressNeverReported(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	f.host.address = ""

	launch, err := f.svc.Launch(context.Background(), "A", "chan-1")

	require.NoError(t, err)
	assert.Empty(t, launch.Address)
	assert.Equal(t, 3, f.host.addressCalls)
	all, _ := f.watches.ListAll(context.Background())
	assert.Empty(t, all)
}

func TestGameLaunch_NoTunnel(t *testing.T) {
	f := newGameFixture(ownerBinding("A", "cs"))

	_, err := f.svc.Launch(context.Background(), "A", "chan-1")

	assert.ErrorIs(t, err, model.ErrNoTunnel)
	assert.ErrorIs(t, err, model.ErrConfiguration)
	starts, _, _ := f.mgmt.counts()
	assert.Zero(t, starts)
	assert.Equal(t, 1, f.recorder.actions["game_start:error"])
}

func TestGameLaunch_HostNeverHealthy(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	f.host.healthyAfter = 100

	launch, err := f.svc.Launch(context.Background(), "A", "chan-1")

	assert.ErrorIs(t, err, model.ErrGameHostUnavailable)
	assert.Equal(t, model.WakeReady, launch.Wake.Outcome, "wake result survives a later failure")
	assert.Equal(t, 3, f.host.healthCalls)
	assert.Empty(t, f.host.startedWith)
}

func TestGameLaunch_WakeTimedOut(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	f.prober = newScriptedProber(map[string][]int{tunnelURL: {http.StatusBadGateway}})
	creds := newMemCredentialStore(ownerCredential("A"))
	access := application.NewAccessResolver(f.bindings, creds, 0, 0)
	wake := application.NewWakeOrchestrator(f.mgmt, f.prober, nil, wakeConfig(3, 90*time.Millisecond))
	f.svc = application.NewGameService(access, wake, f.host, f.status, f.watches, nil, nil, application.GameConfig{})

	launch, err := f.svc.Launch(context.Background(), "A", "chan-1")

	assert.ErrorIs(t, err, model.ErrGameHostUnavailable)
	assert.Equal(t, model.WakeTimedOut, launch.Wake.Outcome)
	assert.Zero(t, f.host.healthCalls)
}

func TestGameUnwatch(t *testing.T) {
	f := newGameFixture(tunnelBinding("B"))
	f.watches = newMemWatchStore(
		model.GameWatch{Address: "a.example.net", OwnerID: "A", ChannelID: "c"},
		model.GameWatch{Address: "z.example.net", OwnerID: "Z", ChannelID: "c"},
	)
	creds := newMemCredentialStore(ownerCredential("A"))
	access := application.NewAccessResolver(f.bindings, creds, 0, 0)
	f.svc = application.NewGameService(access, nil, f.host, f.status, f.watches, nil, nil, application.GameConfig{})

	removed, err := f.svc.Unwatch(context.Background(), "B")

	require.NoError(t, err)
	assert.Equal(t, []string{"a.example.net"}, removed)
	_, ok := f.watches.get("z.example.net")
	assert.True(t, ok, "other owners' watches stay")

	_, err = f.svc.Unwatch(context.Background(), "stranger")
	assert.ErrorIs(t, err, model.ErrNoAccess)
}

func TestGameStatus(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	f.status.set("mc.example.net", true)

	st, err := f.svc.Status(context.Background(), " mc.example.net ")
	require.NoError(t, err)
	assert.True(t, st.Online)

	_, err = f.svc.Status(context.Background(), "")
	assert.ErrorIs(t, err, model.ErrConfiguration)

	f.status.err = errBoom
	_, err = f.svc.Status(context.Background(), "mc.example.net")
	assert.ErrorIs(t, err, errBoom)
}

func TestCheckWatches_PostsTransitions(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	require.NoError(t, f.watches.Put(context.Background(), model.GameWatch{
		Address: "mc.example.net", OwnerID: "A", ChannelID: "chan-1",
	}))
	ctx := context.Background()

	// First sighting offline: recorded, nothing posted.
	require.NoError(t, f.svc.CheckWatches(ctx))
	w, _ := f.watches.get("mc.example.net")
	require.NotNil(t, w.LastOnline)
	assert.False(t, *w.LastOnline)
	_, channel := f.notifier.sent()
	assert.Empty(t, channel)

	f.status.set("mc.example.net", true)
	require.NoError(t, f.svc.CheckWatches(ctx))
	require.NoError(t, f.svc.CheckWatches(ctx))
	_, channel = f.notifier.sent()
	require.Len(t, channel, 1, "steady state posts once")
	assert.Equal(t, "chan-1", channel[0].target)
	assert.Equal(t, driven.SeveritySuccess, channel[0].note.Severity)

	f.status.set("mc.example.net", false)
	require.NoError(t, f.svc.CheckWatches(ctx))
	_, channel = f.notifier.sent()
	require.Len(t, channel, 2)
	assert.Equal(t, driven.SeverityWarning, channel[1].note.Severity)
}

func TestCheckWatches_StatusErrorSkips(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	require.NoError(t, f.watches.Put(context.Background(), model.GameWatch{Address: "mc.example.net", ChannelID: "c"}))
	f.status.err = errBoom

	require.NoError(t, f.svc.CheckWatches(context.Background()))

	w, _ := f.watches.get("mc.example.net")
	assert.Nil(t, w.LastOnline)
}

func TestMonitor_StopsOnCancel(t *testing.T) {
	f := newGameFixture(tunnelBinding())
	f.status.set("mc.example.net", true)
	require.NoError(t, f.watches.Put(context.Background(), model.GameWatch{Address: "mc.example.net", ChannelID: "c"}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.svc.Monitor(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		_, channel := f.notifier.sent()
		return len(channel) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop")
	}
}
