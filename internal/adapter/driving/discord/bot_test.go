package discord_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	notify "github.com/ericfisherdev/spacewake/internal/adapter/driven/discord"
	"github.com/ericfisherdev/spacewake/internal/adapter/driving/discord"
	"github.com/ericfisherdev/spacewake/internal/application"
	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// --- Mock implementations ---

type fakeResponder struct {
	mu        sync.Mutex
	responses []*discordgo.InteractionResponse
	edits     []*discordgo.WebhookEdit
	err       error
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, resp)
	return f.err
}

func (f *fakeResponder) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, edit)
	return &discordgo.Message{}, nil
}

// lastEmbed returns the embed of the final edit.
func (f *fakeResponder) lastEmbed(t *testing.T) *discordgo.MessageEmbed {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.edits)
	embeds := f.edits[len(f.edits)-1].Embeds
	require.NotNil(t, embeds)
	require.Len(t, *embeds, 1)
	return (*embeds)[0]
}

type fakeBindings struct {
	calls      []string
	setup      application.SetupResult
	binding    model.Binding
	err        error
	lastTarget string
	lastMode   string
	lastChan   string
}

func (f *fakeBindings) Setup(_ context.Context, owner, token, codespace string) (application.SetupResult, error) {
	f.calls = append(f.calls, fmt.Sprintf("setup %s %s %s", owner, token, codespace))
	return f.setup, f.err
}

func (f *fakeBindings) Bind(_ context.Context, owner, codespace string) (model.Binding, error) {
	f.calls = append(f.calls, "bind "+owner+" "+codespace)
	return f.binding, f.err
}

func (f *fakeBindings) Unbind(_ context.Context, owner string) error {
	f.calls = append(f.calls, "unbind "+owner)
	return f.err
}

func (f *fakeBindings) Grant(_ context.Context, owner, delegate string) (model.Binding, error) {
	f.calls = append(f.calls, "grant "+owner+" "+delegate)
	f.lastTarget = delegate
	return f.binding, f.err
}

func (f *fakeBindings) Revoke(_ context.Context, owner, delegate string) (model.Binding, error) {
	f.calls = append(f.calls, "revoke "+owner+" "+delegate)
	f.lastTarget = delegate
	return f.binding, f.err
}

func (f *fakeBindings) Binding(_ context.Context, owner string) (model.Binding, error) {
	f.calls = append(f.calls, "binding "+owner)
	return f.binding, f.err
}

func (f *fakeBindings) SetNotifications(_ context.Context, owner, mode, channel string) (model.Binding, error) {
	f.calls = append(f.calls, "notifications "+owner)
	f.lastMode, f.lastChan = mode, channel
	b := f.binding
	b.Notify = model.NotificationPrefs{Mode: model.NotificationMode(mode), ChannelID: channel}
	return b, f.err
}

type fakeControl struct {
	start  application.StartResult
	status application.StatusResult
	access model.Access
	info   model.Access
	err    error
	starts int
}

func (f *fakeControl) Start(context.Context, string) (application.StartResult, error) {
	f.starts++
	return f.start, f.err
}

func (f *fakeControl) Stop(context.Context, string) (model.Access, error) {
	return f.access, f.err
}

func (f *fakeControl) Status(context.Context, string) (application.StatusResult, error) {
	return f.status, f.err
}

func (f *fakeControl) Info(context.Context, string) (model.Access, error) {
	return f.info, f.err
}

type fakeAddons struct {
	stats model.AddonStats
}

func (f *fakeAddons) Stats() model.AddonStats {
	return f.stats
}

type fakeGames struct {
	launch     model.GameLaunch
	removed    []string
	status     *model.GameServerStatus
	err        error
	gotChannel string
	gotAddress string
	budget     time.Duration // time left on the launch context
}

func (f *fakeGames) Launch(ctx context.Context, _, channelID string) (model.GameLaunch, error) {
	f.gotChannel = channelID
	if deadline, ok := ctx.Deadline(); ok {
		f.budget = time.Until(deadline)
	}
	return f.launch, f.err
}

func (f *fakeGames) Unwatch(context.Context, string) ([]string, error) {
	return f.removed, f.err
}

func (f *fakeGames) Status(_ context.Context, address string) (*model.GameServerStatus, error) {
	f.gotAddress = address
	return f.status, f.err
}

// --- Helpers ---

type botFixture struct {
	responder *fakeResponder
	bindings  *fakeBindings
	control   *fakeControl
	games     *fakeGames
	addons    *fakeAddons
	bot       *discord.Bot
}

func newBotFixture(cooldown time.Duration) *botFixture {
	f := &botFixture{
		responder: &fakeResponder{},
		bindings:  &fakeBindings{},
		control:   &fakeControl{},
		games:     &fakeGames{},
		addons:    &fakeAddons{},
	}
	f.bot = discord.NewBot(f.responder, f.bindings, f.control, f.games, f.addons, discord.Config{Cooldown: cooldown})
	return f
}

func command(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	return &discordgo.Interaction{
		Type:      discordgo.InteractionApplicationCommand,
		ChannelID: "chan-1",
		Member:    &discordgo.Member{User: &discordgo.User{ID: "u1"}},
		Data:      discordgo.ApplicationCommandInteractionData{Name: name, Options: opts},
	}
}

func opt(name string, typ discordgo.ApplicationCommandOptionType, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: typ, Value: value}
}

func fieldValue(e *discordgo.MessageEmbed, name string) string {
	for _, f := range e.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

// --- Tests ---

func TestCommands_AllRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range discord.Commands() {
		assert.NotEmpty(t, c.Description, c.Name)
		names[c.Name] = true
	}
	for _, want := range []string{
		"setup", "bind", "unbind", "grant", "revoke", "delegates", "history",
		"start", "stop", "status", "notifications", "game_start", "game_stop", "game_status",
		"info", "addon_stats",
	} {
		assert.True(t, names[want], want)
	}
}

func TestHandle_DefersThenEdits(t *testing.T) {
	f := newBotFixture(0)
	f.control.start = application.StartResult{
		Access: model.Access{OwnerID: "u1", Binding: &model.Binding{ResourceName: "cs"}},
		Wake: model.WakeResult{
			Outcome:    model.WakeReady,
			Message:    "cs is ready",
			Attempts:   2,
			ReachedVia: &model.Endpoint{URL: "https://cs.github.dev"},
		},
	}

	f.bot.Handle(command("start"))

	require.Len(t, f.responder.responses, 1)
	first := f.responder.responses[0]
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, first.Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, first.Data.Flags)

	e := f.responder.lastEmbed(t)
	assert.Equal(t, "Codespace ready", e.Title)
	assert.Equal(t, notify.ColorSuccess, e.Color)
	assert.Equal(t, "cs", fieldValue(e, "Codespace"))
	assert.Equal(t, "2", fieldValue(e, "Attempts"))
	assert.Equal(t, "https://cs.github.dev", fieldValue(e, "Reached via"))
}

func TestHandle_StartOutcomes(t *testing.T) {
	tests := []struct {
		outcome   model.WakeOutcome
		wantTitle string
		wantColor int
	}{
		{model.WakeReady, "Codespace ready", notify.ColorSuccess},
		{model.WakeReachableUnconfirmed, "Codespace responding", notify.ColorWarning},
		{model.WakeTimedOut, "Codespace did not wake", notify.ColorError},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome), func(t *testing.T) {
			f := newBotFixture(0)
			f.control.start = application.StartResult{Wake: model.WakeResult{Outcome: tt.outcome}}

			f.bot.Handle(command("start"))

			e := f.responder.lastEmbed(t)
			assert.Equal(t, tt.wantTitle, e.Title)
			assert.Equal(t, tt.wantColor, e.Color)
		})
	}
}

func TestHandle_ErrorsCarryNextStep(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantBody  string
		wantColor int
	}{
		{"no access", fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoAccess), "/setup", notify.ColorError},
		{"expired credential", fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrCredentialExpired), "owner must run /setup", notify.ColorError},
		{"lapsed binding", fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrBindingExpired), "/bind", notify.ColorError},
		{"upstream", fmt.Errorf("%w: status 403: forbidden", model.ErrUpstreamRejection), "forbidden", notify.ColorError},
		{"internal", errors.New("database is locked"), "Try again", notify.ColorError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newBotFixture(0)
			f.control.err = tt.err
			f.control.access = model.Access{Binding: &model.Binding{ResourceName: "cs"}}

			f.bot.Handle(command("stop"))

			e := f.responder.lastEmbed(t)
			assert.Equal(t, "/stop failed", e.Title)
			assert.Contains(t, e.Description, tt.wantBody)
			assert.Equal(t, tt.wantColor, e.Color)
			assert.Equal(t, "cs", fieldValue(e, "Codespace"), "names the codespace involved")
		})
	}
}

func TestHandle_InternalErrorHidesDetails(t *testing.T) {
	f := newBotFixture(0)
	f.control.err = errors.New("sql: database is locked")

	f.bot.Handle(command("status"))

	e := f.responder.lastEmbed(t)
	assert.NotContains(t, e.Description, "sql")
}

func TestHandle_Setup(t *testing.T) {
	f := newBotFixture(0)
	f.bindings.setup = application.SetupResult{
		Login:      "alice",
		Binding:    model.Binding{ResourceName: "cs-one"},
		Codespaces: []model.Resource{{Name: "cs-one", State: model.ResourceStateShutdown}},
		Provision:  &driven.ProvisionReport{Devcontainer: driven.FileUpdated, StartupScript: driven.FileCreated},
	}

	f.bot.Handle(command("setup",
		opt("token", discordgo.ApplicationCommandOptionString, "ghp_x"),
		opt("codespace", discordgo.ApplicationCommandOptionString, "cs-one"),
	))

	assert.Equal(t, []string{"setup u1 ghp_x cs-one"}, f.bindings.calls)
	e := f.responder.lastEmbed(t)
	assert.Equal(t, "Setup complete", e.Title)
	assert.Contains(t, e.Description, "alice")
	assert.Equal(t, "never", fieldValue(e, "Token expires"))
	assert.Contains(t, fieldValue(e, "Repository"), "devcontainer.json updated")
}

func TestHandle_SetupProvisionFailureWarns(t *testing.T) {
	f := newBotFixture(0)
	f.bindings.setup = application.SetupResult{
		Login:        "alice",
		Provision:    &driven.ProvisionReport{Devcontainer: driven.FileFailed},
		ProvisionErr: errors.New("status 404: Not Found"),
	}

	f.bot.Handle(command("setup", opt("token", discordgo.ApplicationCommandOptionString, "ghp_x")))

	e := f.responder.lastEmbed(t)
	assert.Equal(t, notify.ColorWarning, e.Color)
	assert.Contains(t, fieldValue(e, "Repository"), "404")
}

func TestHandle_GrantAndRevoke(t *testing.T) {
	f := newBotFixture(0)
	f.bindings.binding = model.Binding{OwnerID: "u1", ResourceName: "cs"}

	f.bot.Handle(command("grant", opt("user", discordgo.ApplicationCommandOptionUser, "u2")))
	assert.Equal(t, "u2", f.bindings.lastTarget)
	e := f.responder.lastEmbed(t)
	assert.Contains(t, e.Description, "<@u2> can now control `cs`")

	f.bot.Handle(command("revoke", opt("user", discordgo.ApplicationCommandOptionUser, "u2")))
	e = f.responder.lastEmbed(t)
	assert.Contains(t, e.Description, "can no longer control")
}

func TestHandle_SelfGrantIsInformational(t *testing.T) {
	f := newBotFixture(0)
	f.bindings.err = model.ErrSelfDelegation

	f.bot.Handle(command("grant", opt("user", discordgo.ApplicationCommandOptionUser, "u1")))

	e := f.responder.lastEmbed(t)
	assert.Equal(t, "Nothing to do", e.Title)
	assert.Equal(t, notify.ColorInfo, e.Color)
}

func TestHandle_DelegatesAndHistory(t *testing.T) {
	f := newBotFixture(0)
	f.bindings.binding = model.Binding{
		OwnerID:      "u1",
		ResourceName: "cs",
		Delegates:    []string{"u2", "u3"},
		History:      []string{"cs-old", "cs-older"},
	}

	f.bot.Handle(command("delegates"))
	e := f.responder.lastEmbed(t)
	assert.Equal(t, "<@u2>\n<@u3>", e.Description)

	f.bot.Handle(command("history"))
	e = f.responder.lastEmbed(t)
	assert.Equal(t, "1. `cs-old`\n2. `cs-older`", e.Description)
	assert.Equal(t, "cs", fieldValue(e, "Current"))
}

func TestHandle_NotificationsDefaultsToCurrentChannel(t *testing.T) {
	f := newBotFixture(0)

	f.bot.Handle(command("notifications", opt("mode", discordgo.ApplicationCommandOptionString, "channel")))

	assert.Equal(t, "channel", f.bindings.lastMode)
	assert.Equal(t, "chan-1", f.bindings.lastChan)
	e := f.responder.lastEmbed(t)
	assert.Contains(t, e.Description, "<#chan-1>")
}

func TestHandle_GameCommands(t *testing.T) {
	f := newBotFixture(0)
	f.games.launch = model.GameLaunch{Address: "mc.example.net", Wake: model.WakeResult{Outcome: model.WakeReady}}

	f.bot.Handle(command("game_start"))
	assert.Equal(t, "chan-1", f.games.gotChannel)
	e := f.responder.lastEmbed(t)
	assert.Equal(t, "mc.example.net", fieldValue(e, "Address"))

	f.games.status = &model.GameServerStatus{
		Address: "mc.example.net", Online: true, PlayersOnline: 3, PlayersMax: 20,
		Version: "1.21", IconURL: "https://api.mcstatus.io/v2/icon/mc.example.net",
	}
	f.bot.Handle(command("game_status", opt("address", discordgo.ApplicationCommandOptionString, "mc.example.net")))
	assert.Equal(t, "mc.example.net", f.games.gotAddress)
	e = f.responder.lastEmbed(t)
	assert.Equal(t, "3/20", fieldValue(e, "Players"))
	require.NotNil(t, e.Thumbnail)

	f.bot.Handle(command("game_stop"))
	e = f.responder.lastEmbed(t)
	assert.Equal(t, "Nothing to stop", e.Title)
}

func TestHandle_CooldownOnMutatingCommands(t *testing.T) {
	f := newBotFixture(time.Hour)
	f.control.status = application.StatusResult{
		Access:   model.Access{Binding: &model.Binding{ResourceName: "cs"}},
		Resource: model.Resource{State: model.ResourceStateAvailable},
	}

	f.bot.Handle(command("start"))
	f.bot.Handle(command("start"))
	assert.Equal(t, 1, f.control.starts)

	last := f.responder.responses[len(f.responder.responses)-1]
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, last.Type)
	require.Len(t, last.Data.Embeds, 1)
	assert.Equal(t, "Slow down", last.Data.Embeds[0].Title)

	f.bot.Handle(command("status"))
	f.bot.Handle(command("status"))
	e := f.responder.lastEmbed(t)
	assert.Equal(t, "Codespace status", e.Title, "read commands are not rate limited")
}

func TestHandle_IgnoresNonCommands(t *testing.T) {
	f := newBotFixture(0)

	f.bot.Handle(&discordgo.Interaction{Type: discordgo.InteractionPing})

	assert.Empty(t, f.responder.responses)
}

func TestHandle_DirectMessageCaller(t *testing.T) {
	f := newBotFixture(0)
	i := command("unbind")
	i.Member = nil
	i.User = &discordgo.User{ID: "dm-user"}

	f.bot.Handle(i)

	assert.Equal(t, []string{"unbind dm-user"}, f.bindings.calls)
}

func TestReady_DefaultsFalse(t *testing.T) {
	f := newBotFixture(0)
	assert.False(t, f.bot.Ready())
}

func TestHandle_GameStartUsesGameTimeout(t *testing.T) {
	tests := []struct {
		name    string
		cfg     discord.Config
		atLeast time.Duration
		atMost  time.Duration
	}{
		{"own budget", discord.Config{CommandTimeout: time.Minute, GameTimeout: 10 * time.Minute}, 9 * time.Minute, 10 * time.Minute},
		{"falls back to command timeout", discord.Config{CommandTimeout: 2 * time.Minute}, time.Minute, 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			games := &fakeGames{launch: model.GameLaunch{Address: "mc.example.net"}}
			bot := discord.NewBot(&fakeResponder{}, &fakeBindings{}, &fakeControl{}, games, &fakeAddons{}, tt.cfg)

			bot.Handle(command("game_start"))

			assert.Greater(t, games.budget, tt.atLeast)
			assert.LessOrEqual(t, games.budget, tt.atMost)
		})
	}
}

func TestHandle_InfoForDelegate(t *testing.T) {
	f := newBotFixture(0)
	exp := time.Now().Add(2*time.Hour + 30*time.Minute)
	f.control.info = model.Access{
		OwnerID:   "owner",
		Delegated: true,
		Binding: &model.Binding{
			OwnerID:      "owner",
			ResourceName: "cs",
			Delegates:    []string{"u1", "d2", "d3", "d4", "d5", "d6", "d7"},
		},
		Credential: &model.Credential{OwnerID: "owner", Secret: "ghp_x", ExpiresAt: &exp},
	}

	f.bot.Handle(command("info"))

	e := f.responder.lastEmbed(t)
	assert.Contains(t, e.Description, "<@owner>")
	assert.Equal(t, "`cs`", fieldValue(e, "Codespace"))
	assert.Contains(t, fieldValue(e, "Session"), "2h 2", "about two and a half hours left")
	assert.Equal(t, "never", fieldValue(e, "Binding"))
	assert.Equal(t, "7 user(s)", fieldValue(e, "Delegates"))
	assert.Contains(t, fieldValue(e, "Authorized"), "and 2 more")
	assert.NotContains(t, fieldValue(e, "Authorized"), "<@d6>")
}

func TestHandle_InfoExpired(t *testing.T) {
	f := newBotFixture(0)
	past := time.Now().Add(-time.Hour)
	f.control.info = model.Access{
		OwnerID:    "u1",
		Binding:    &model.Binding{OwnerID: "u1", ResourceName: "cs", ExpiresAt: &past},
		Credential: &model.Credential{OwnerID: "u1", Secret: "ghp_x", ExpiresAt: &past},
	}

	f.bot.Handle(command("info"))

	e := f.responder.lastEmbed(t)
	assert.Equal(t, "You own this binding.", e.Description)
	assert.Equal(t, "expired", fieldValue(e, "Session"))
	assert.Contains(t, fieldValue(e, "Binding"), "/bind")
	assert.Empty(t, fieldValue(e, "Authorized"))
}

func TestHandle_InfoWithoutBinding(t *testing.T) {
	f := newBotFixture(0)
	f.control.err = fmt.Errorf("%w: %w", model.ErrConfiguration, model.ErrNoAccess)

	f.bot.Handle(command("info"))

	e := f.responder.lastEmbed(t)
	assert.Equal(t, "/info failed", e.Title)
	assert.Contains(t, e.Description, "/setup")
}

func TestHandle_AddonStats(t *testing.T) {
	f := newBotFixture(time.Hour)
	f.addons.stats = model.AddonStats{
		Polled: 5, Processed: 4, Failed: 1,
		LastPoll: time.Unix(1700000000, 0),
		Sources:  []string{"https://t1.example", "https://t2.example"},
	}

	f.bot.Handle(command("addon_stats"))
	f.bot.Handle(command("addon_stats"))

	e := f.responder.lastEmbed(t)
	assert.Equal(t, "2 codespace(s) polled.", e.Description)
	assert.Equal(t, "5", fieldValue(e, "Received"))
	assert.Equal(t, "4", fieldValue(e, "Processed"))
	assert.Equal(t, "1", fieldValue(e, "Failed"))
	assert.Equal(t, "<t:1700000000:R>", fieldValue(e, "Last poll"))
	assert.Contains(t, fieldValue(e, "Tunnels"), "`https://t2.example`")
	assert.Len(t, f.responder.edits, 2, "read-only commands skip the cooldown")
}
