package discord

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	notify "github.com/ericfisherdev/spacewake/internal/adapter/driven/discord"
	"github.com/ericfisherdev/spacewake/internal/application"
	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

const footer = "spacewake"

func embed(title, body string, sev driven.Severity) *discordgo.MessageEmbed {
	e := notify.Embed(driven.Notification{Title: title, Body: body, Severity: sev})
	e.Footer = &discordgo.MessageEmbedFooter{Text: footer}
	return e
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	if value == "" {
		value = "-"
	}
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

// errorEmbed explains a failed command and what to do next. resource names
// the codespace involved when it is known.
func errorEmbed(command, resource string, err error) *discordgo.MessageEmbed {
	title := fmt.Sprintf("/%s failed", command)
	sev := driven.SeverityError
	var body string

	switch {
	case errors.Is(err, model.ErrNoAccess):
		body = "You have no codespace. Run /setup with your GitHub token, or ask an owner to /grant you access."
	case errors.Is(err, model.ErrNotBound):
		body = "You have not bound a codespace. Run /setup or /bind first."
	case errors.Is(err, model.ErrCredentialExpired):
		body = "The owner's GitHub token is missing or expired. The owner must run /setup again."
	case errors.Is(err, model.ErrBindingExpired):
		body = "Access lapsed after a period of inactivity. The owner must run /bind again."
	case errors.Is(err, model.ErrNoTunnel):
		body = "No tunnel has been reported yet. Run /start and wait for the tunnel notification."
	case errors.Is(err, model.ErrNoResource):
		body = "This token cannot see any codespace. Create one on GitHub, then run /setup again."
	case errors.Is(err, model.ErrSelfDelegation):
		title, sev, body = "Nothing to do", driven.SeverityInfo, "You already control your own codespace."
	case errors.Is(err, model.ErrAlreadyDelegate):
		title, sev, body = "Nothing to do", driven.SeverityInfo, "That user already has access."
	case errors.Is(err, model.ErrNotDelegate):
		title, sev, body = "Nothing to do", driven.SeverityInfo, "That user had no access."
	case errors.Is(err, model.ErrGameHostUnavailable):
		body = fmt.Sprintf("The server inside the codespace did not respond (%s). Check /status and try again.", err)
	case errors.Is(err, model.ErrUpstreamRejection):
		body = fmt.Sprintf("GitHub rejected the request: %s\nCheck that the codespace exists and the token has the codespace scope.", err)
	case errors.Is(err, model.ErrConfiguration):
		body = fmt.Sprintf("%s\nRun /setup to fix your configuration.", err)
	default:
		body = "Something went wrong on our side. Try again in a moment."
	}

	e := embed(title, body, sev)
	if resource != "" {
		e.Fields = append(e.Fields, field("Codespace", resource, true))
	}
	return e
}

func cooldownEmbed(wait time.Duration) *discordgo.MessageEmbed {
	return embed("Slow down",
		fmt.Sprintf("Try again in %s.", wait.Round(time.Second)+time.Second),
		driven.SeverityWarning)
}

func setupEmbed(res application.SetupResult) *discordgo.MessageEmbed {
	e := embed("Setup complete",
		fmt.Sprintf("Token for **%s** stored. Bound to `%s`.", res.Login, res.Binding.ResourceName),
		driven.SeveritySuccess)

	names := make([]string, 0, len(res.Codespaces))
	for _, r := range res.Codespaces {
		names = append(names, fmt.Sprintf("`%s` (%s)", r.Name, r.State))
	}
	e.Fields = append(e.Fields, field("Codespaces", strings.Join(names, "\n"), false))
	e.Fields = append(e.Fields, field("Token expires", expiry(res.Credential.ExpiresAt), true))

	switch {
	case res.Provision == nil:
		e.Fields = append(e.Fields, field("Repository", "no repository to provision", true))
	case res.ProvisionErr != nil:
		e.Color = notify.ColorWarning
		e.Fields = append(e.Fields, field("Repository",
			fmt.Sprintf("provisioning failed: %s", res.ProvisionErr), false))
	default:
		e.Fields = append(e.Fields, field("Repository", fmt.Sprintf("devcontainer.json %s, startup.sh %s",
			res.Provision.Devcontainer, res.Provision.StartupScript), false))
	}
	return e
}

func startEmbed(res application.StartResult) *discordgo.MessageEmbed {
	w := res.Wake
	var e *discordgo.MessageEmbed
	switch w.Outcome {
	case model.WakeReady:
		e = embed("Codespace ready", w.Message, driven.SeveritySuccess)
	case model.WakeReachableUnconfirmed:
		e = embed("Codespace responding", w.Message, driven.SeverityWarning)
	default:
		e = embed("Codespace did not wake", w.Message+"\nIt may still be booting: check /status in a minute.", driven.SeverityError)
	}

	e.Fields = append(e.Fields,
		field("Codespace", res.Access.ResourceName(), true),
		field("Attempts", fmt.Sprint(w.Attempts), true),
		field("Elapsed", w.Elapsed.Round(time.Second).String(), true),
	)
	if w.ReachedVia != nil {
		e.Fields = append(e.Fields, field("Reached via", w.ReachedVia.URL, false))
	}
	return e
}

func statusEmbed(res application.StatusResult) *discordgo.MessageEmbed {
	r := res.Resource
	sev := driven.SeverityInfo
	switch r.State {
	case model.ResourceStateAvailable:
		sev = driven.SeveritySuccess
	case model.ResourceStateStarting:
		sev = driven.SeverityWarning
	}

	state := string(r.State)
	if r.RawState != "" && r.RawState != state {
		state = fmt.Sprintf("%s (%s)", state, r.RawState)
	}

	e := embed("Codespace status", fmt.Sprintf("`%s` is **%s**.", res.Access.ResourceName(), state), sev)
	e.Fields = append(e.Fields,
		field("URL", r.WebURL, false),
		field("Tunnel", res.Access.Binding.TunnelURL, false),
	)
	if r.RepoFullName != "" {
		e.Fields = append(e.Fields, field("Repository", r.RepoFullName, true))
	}
	if !r.LastUsedAt.IsZero() {
		e.Fields = append(e.Fields, field("Last used", discordTime(r.LastUsedAt), true))
	}
	if res.Access.Delegated {
		e.Fields = append(e.Fields, field("Owner", mention(res.Access.OwnerID), true))
	}
	return e
}

func delegatesEmbed(b model.Binding) *discordgo.MessageEmbed {
	if len(b.Delegates) == 0 {
		return embed("Delegates", fmt.Sprintf("Nobody else can control `%s`.", b.ResourceName), driven.SeverityInfo)
	}
	lines := make([]string, 0, len(b.Delegates))
	for _, d := range b.Delegates {
		lines = append(lines, mention(d))
	}
	e := embed("Delegates", strings.Join(lines, "\n"), driven.SeverityInfo)
	e.Fields = append(e.Fields,
		field("Codespace", b.ResourceName, true),
		field("Access lapses", expiry(b.ExpiresAt), true),
	)
	return e
}

func historyEmbed(b model.Binding) *discordgo.MessageEmbed {
	if len(b.History) == 0 {
		return embed("History", fmt.Sprintf("Only `%s` has been bound.", b.ResourceName), driven.SeverityInfo)
	}
	lines := make([]string, 0, len(b.History))
	for i, h := range b.History {
		lines = append(lines, fmt.Sprintf("%d. `%s`", i+1, h))
	}
	e := embed("History", strings.Join(lines, "\n"), driven.SeverityInfo)
	e.Fields = append(e.Fields, field("Current", b.ResourceName, true))
	return e
}

func notificationsEmbed(b model.Binding) *discordgo.MessageEmbed {
	var body string
	switch b.Notify.Mode {
	case model.NotifyChannel:
		body = fmt.Sprintf("Notifications go to <#%s>.", b.Notify.ChannelID)
	case model.NotifyDisabled:
		body = "Notifications are off."
	default:
		body = "Notifications arrive by direct message."
	}
	return embed("Notifications updated", body, driven.SeveritySuccess)
}

func gameLaunchEmbed(l model.GameLaunch, watching bool) *discordgo.MessageEmbed {
	if l.Address == "" {
		e := embed("Game server starting",
			"The server is starting but has not reported its address yet. Try /game_start again in a minute.",
			driven.SeverityWarning)
		e.Fields = append(e.Fields, field("Tunnel", l.TunnelURL, false))
		return e
	}
	body := fmt.Sprintf("Connect to `%s`.", l.Address)
	if watching {
		body += "\nThis channel will hear when it goes online or offline."
	}
	e := embed("Game server starting", body, driven.SeveritySuccess)
	e.Fields = append(e.Fields,
		field("Address", l.Address, true),
		field("Wake", string(l.Wake.Outcome), true),
	)
	return e
}

func gameStatusEmbed(st *model.GameServerStatus) *discordgo.MessageEmbed {
	if !st.Online {
		return embed("Game server offline", fmt.Sprintf("`%s` is not answering.", st.Address), driven.SeverityWarning)
	}
	e := embed("Game server online", fmt.Sprintf("`%s`", st.Address), driven.SeveritySuccess)
	e.Fields = append(e.Fields,
		field("Players", fmt.Sprintf("%d/%d", st.PlayersOnline, st.PlayersMax), true),
		field("Version", st.Version, true),
		field("Latency", fmt.Sprintf("%d ms", st.LatencyMS), true),
	)
	if st.MOTD != "" {
		e.Fields = append(e.Fields, field("MOTD", st.MOTD, false))
	}
	if st.IconURL != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: st.IconURL}
	}
	return e
}

// maxListed caps the user mentions shown in one field.
const maxListed = 5

func infoEmbed(callerID string, access model.Access, now time.Time) *discordgo.MessageEmbed {
	b := access.Binding
	body := "You own this binding."
	if access.Delegated {
		body = fmt.Sprintf("Granted to %s by %s.", mention(callerID), mention(access.OwnerID))
	}

	binding := expiry(b.ExpiresAt)
	if !b.IsLive(now) {
		binding = "lapsed, the owner must run /bind again"
	}

	e := embed("Your configuration", body, driven.SeverityInfo)
	e.Fields = append(e.Fields,
		field("Codespace", "`"+b.ResourceName+"`", false),
		field("Session", sessionRemaining(access.Credential, now), true),
		field("Binding", binding, true),
		field("Delegates", fmt.Sprintf("%d user(s)", len(b.Delegates)), true),
	)
	if len(b.Delegates) > 0 {
		lines := make([]string, 0, maxListed+1)
		for i, d := range b.Delegates {
			if i == maxListed {
				lines = append(lines, fmt.Sprintf("and %d more", len(b.Delegates)-maxListed))
				break
			}
			lines = append(lines, mention(d))
		}
		e.Fields = append(e.Fields, field("Authorized", strings.Join(lines, "\n"), false))
	}
	return e
}

// sessionRemaining describes how long the owner's token stays usable.
func sessionRemaining(c *model.Credential, now time.Time) string {
	switch {
	case c == nil || c.Secret == "":
		return "no token, run /setup"
	case c.Expired(now):
		return "expired"
	case c.ExpiresAt == nil:
		return "no expiry"
	}
	d := c.ExpiresAt.Sub(now)
	return fmt.Sprintf("%dh %dm remaining", int(d.Hours()), int(d.Minutes())%60)
}

func addonStatsEmbed(st model.AddonStats) *discordgo.MessageEmbed {
	e := embed("Codespace events", fmt.Sprintf("%d codespace(s) polled.", len(st.Sources)), driven.SeverityInfo)
	last := "not yet"
	if !st.LastPoll.IsZero() {
		last = discordTime(st.LastPoll)
	}
	e.Fields = append(e.Fields,
		field("Received", fmt.Sprint(st.Polled), true),
		field("Processed", fmt.Sprint(st.Processed), true),
		field("Failed", fmt.Sprint(st.Failed), true),
		field("Last poll", last, false),
	)
	if len(st.Sources) > 0 {
		n := min(len(st.Sources), maxListed)
		lines := make([]string, 0, n)
		for _, src := range st.Sources[:n] {
			lines = append(lines, "`"+src+"`")
		}
		e.Fields = append(e.Fields, field("Tunnels", strings.Join(lines, "\n"), false))
	}
	return e
}

func expiry(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return discordTime(*t)
}

// discordTime renders t as a relative Discord timestamp.
func discordTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

func mention(userID string) string {
	return "<@" + userID + ">"
}
