// Package discord is the slash command front end.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/ericfisherdev/spacewake/internal/application"
	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// Bindings is the owner configuration use case.
type Bindings interface {
	Setup(ctx context.Context, ownerID, token, codespace string) (application.SetupResult, error)
	Bind(ctx context.Context, ownerID, codespace string) (model.Binding, error)
	Unbind(ctx context.Context, ownerID string) error
	Grant(ctx context.Context, ownerID, delegateID string) (model.Binding, error)
	Revoke(ctx context.Context, ownerID, delegateID string) (model.Binding, error)
	Binding(ctx context.Context, ownerID string) (model.Binding, error)
	SetNotifications(ctx context.Context, ownerID, mode, channelID string) (model.Binding, error)
}

// Controller is the start, stop and status use case.
type Controller interface {
	Start(ctx context.Context, callerID string) (application.StartResult, error)
	Stop(ctx context.Context, callerID string) (model.Access, error)
	Status(ctx context.Context, callerID string) (application.StatusResult, error)
	Info(ctx context.Context, callerID string) (model.Access, error)
}

// Games is the game server use case.
type Games interface {
	Launch(ctx context.Context, callerID, channelID string) (model.GameLaunch, error)
	Unwatch(ctx context.Context, callerID string) ([]string, error)
	Status(ctx context.Context, address string) (*model.GameServerStatus, error)
}

// Addons reports on the codespace event poller.
type Addons interface {
	Stats() model.AddonStats
}

// Responder is the subset of *discordgo.Session used to answer interactions.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Config tunes the front end.
type Config struct {
	GuildID string
	// Cooldown is the minimum gap between two runs of the same mutating
	// command by the same user. Zero disables it.
	Cooldown time.Duration
	// CommandTimeout bounds a single command, wake campaigns included.
	CommandTimeout time.Duration
	// GameTimeout bounds /game_start, which waits for the game host after
	// the wake. Zero means CommandTimeout.
	GameTimeout time.Duration
}

// Bot routes slash commands to the application services and renders the
// results as ephemeral embeds.
type Bot struct {
	responder Responder
	bindings  Bindings
	control   Controller
	games     Games
	addons    Addons
	cfg       Config
	cooldowns *cooldowns
	ready     atomic.Bool
	baseCtx   context.Context //nolint:containedctx // interaction callbacks carry no context
}

// NewBot creates a Bot answering through responder.
func NewBot(responder Responder, bindings Bindings, control Controller, games Games, addons Addons, cfg Config) *Bot {
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = 5 * time.Minute
	}
	if cfg.GameTimeout <= 0 {
		cfg.GameTimeout = cfg.CommandTimeout
	}
	return &Bot{
		responder: responder,
		bindings:  bindings,
		control:   control,
		games:     games,
		addons:    addons,
		cfg:       cfg,
		cooldowns: newCooldowns(cfg.Cooldown),
		baseCtx:   context.Background(),
	}
}

// Ready reports whether the gateway session is connected.
func (b *Bot) Ready() bool {
	return b.ready.Load()
}

// Run attaches the bot to session, opens the gateway, registers the slash
// commands and blocks until ctx is canceled.
func (b *Bot) Run(ctx context.Context, session *discordgo.Session) error {
	b.baseCtx = ctx
	session.Identify.Intents = discordgo.IntentsGuilds

	session.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		b.ready.Store(true)
		slog.Info("discord session ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		b.ready.Store(true)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		b.ready.Store(false)
		slog.Warn("discord session disconnected")
	})
	session.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		b.Handle(i.Interaction)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening discord session: %w", err)
	}
	defer func() {
		b.ready.Store(false)
		if err := session.Close(); err != nil {
			slog.Error("closing discord session", "error", err)
		}
	}()

	registered, err := session.ApplicationCommandBulkOverwrite(session.State.User.ID, b.cfg.GuildID, Commands())
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}
	slog.Info("slash commands registered", "count", len(registered), "guild", b.cfg.GuildID)

	<-ctx.Done()
	slog.Info("discord bot stopped")
	return nil
}

// Handle answers one interaction. Every command is acknowledged with a
// deferred ephemeral response first, then the embed replaces it once the
// command finishes.
func (b *Bot) Handle(i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	callerID := callerOf(i)
	log := slog.With("command", data.Name, "caller", callerID)

	if mutating[data.Name] {
		if ok, wait := b.cooldowns.allow(callerID, data.Name); !ok {
			b.respond(log, i, cooldownEmbed(wait))
			return
		}
	}

	err := b.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		log.Error("deferring interaction", "error", err)
		return
	}

	timeout := b.cfg.CommandTimeout
	if data.Name == cmdGameStart {
		timeout = b.cfg.GameTimeout
	}
	ctx, cancel := context.WithTimeout(b.baseCtx, timeout)
	defer cancel()

	start := time.Now()
	e := b.dispatch(ctx, log, i, data, callerID)
	log.Info("command handled", "duration", time.Since(start).Round(time.Millisecond))

	embeds := []*discordgo.MessageEmbed{e}
	if _, err := b.responder.InteractionResponseEdit(i, &discordgo.WebhookEdit{Embeds: &embeds}); err != nil {
		log.Error("editing interaction response", "error", err)
	}
}

func (b *Bot) respond(log *slog.Logger, i *discordgo.Interaction, e *discordgo.MessageEmbed) {
	err := b.responder.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{e},
			Flags:  discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		log.Error("responding to interaction", "error", err)
	}
}

func (b *Bot) dispatch(
	ctx context.Context,
	log *slog.Logger,
	i *discordgo.Interaction,
	data discordgo.ApplicationCommandInteractionData,
	callerID string,
) *discordgo.MessageEmbed {
	opts := optionMap(data.Options)
	name := data.Name

	fail := func(resource string, err error) *discordgo.MessageEmbed {
		log.Warn("command failed", "codespace", resource, "error", err)
		return errorEmbed(name, resource, err)
	}

	switch name {
	case cmdSetup:
		res, err := b.bindings.Setup(ctx, callerID, stringOpt(opts, "token"), stringOpt(opts, "codespace"))
		if err != nil {
			return fail(stringOpt(opts, "codespace"), err)
		}
		return setupEmbed(res)

	case cmdBind:
		codespace := stringOpt(opts, "codespace")
		bnd, err := b.bindings.Bind(ctx, callerID, codespace)
		if err != nil {
			return fail(codespace, err)
		}
		return embed("Codespace bound",
			fmt.Sprintf("Bound to `%s`. %d delegate(s) kept.", bnd.ResourceName, len(bnd.Delegates)),
			driven.SeveritySuccess)

	case cmdUnbind:
		if err := b.bindings.Unbind(ctx, callerID); err != nil {
			return fail("", err)
		}
		return embed("Codespace unbound", "Your binding and all delegations were removed. Your token is kept.", driven.SeveritySuccess)

	case cmdGrant, cmdRevoke:
		target := stringOpt(opts, "user")
		change, verb := b.bindings.Grant, "can now control"
		if name == cmdRevoke {
			change, verb = b.bindings.Revoke, "can no longer control"
		}
		bnd, err := change(ctx, callerID, target)
		if err != nil {
			return fail(bnd.ResourceName, err)
		}
		return embed("Delegates updated", fmt.Sprintf("%s %s `%s`.", mention(target), verb, bnd.ResourceName), driven.SeveritySuccess)

	case cmdDelegates, cmdHistory:
		bnd, err := b.bindings.Binding(ctx, callerID)
		if err != nil {
			return fail("", err)
		}
		if name == cmdHistory {
			return historyEmbed(bnd)
		}
		return delegatesEmbed(bnd)

	case cmdNotifications:
		channel := stringOpt(opts, "channel")
		if channel == "" {
			channel = i.ChannelID
		}
		bnd, err := b.bindings.SetNotifications(ctx, callerID, stringOpt(opts, "mode"), channel)
		if err != nil {
			return fail("", err)
		}
		return notificationsEmbed(bnd)

	case cmdStart:
		res, err := b.control.Start(ctx, callerID)
		if err != nil {
			return fail(res.Access.ResourceName(), err)
		}
		return startEmbed(res)

	case cmdStop:
		access, err := b.control.Stop(ctx, callerID)
		if err != nil {
			return fail(access.ResourceName(), err)
		}
		return embed("Codespace stopped", fmt.Sprintf("`%s` is shutting down.", access.ResourceName()), driven.SeveritySuccess)

	case cmdStatus:
		res, err := b.control.Status(ctx, callerID)
		if err != nil {
			return fail(res.Access.ResourceName(), err)
		}
		return statusEmbed(res)

	case cmdGameStart:
		launch, err := b.games.Launch(ctx, callerID, i.ChannelID)
		if err != nil {
			return fail("", err)
		}
		return gameLaunchEmbed(launch, i.ChannelID != "")

	case cmdGameStop:
		removed, err := b.games.Unwatch(ctx, callerID)
		if err != nil {
			return fail("", err)
		}
		if len(removed) == 0 {
			return embed("Nothing to stop", "No game server is being monitored.", driven.SeverityInfo)
		}
		return embed("Monitoring stopped", fmt.Sprintf("No longer watching `%s`.", removed[0]), driven.SeveritySuccess)

	case cmdGameStatus:
		st, err := b.games.Status(ctx, stringOpt(opts, "address"))
		if err != nil {
			return fail("", err)
		}
		return gameStatusEmbed(st)

	case cmdInfo:
		access, err := b.control.Info(ctx, callerID)
		if err != nil {
			return fail("", err)
		}
		return infoEmbed(callerID, access, time.Now())

	case cmdAddonStats:
		return addonStatsEmbed(b.addons.Stats())

	default:
		return embed("Unknown command", fmt.Sprintf("/%s is not supported.", name), driven.SeverityError)
	}
}

// callerOf returns the invoking user, from the member in guilds and the
// user in DMs.
func callerOf(i *discordgo.Interaction) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

// stringOpt returns a string option's value. User and channel options carry
// their id as a string too.
func stringOpt(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	o, ok := opts[name]
	if !ok {
		return ""
	}
	s, _ := o.Value.(string)
	return s
}
