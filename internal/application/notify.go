package application

import (
	"context"
	"log/slog"

	"github.com/ericfisherdev/spacewake/internal/domain/model"
	"github.com/ericfisherdev/spacewake/internal/domain/port/driven"
)

// notifyOwner delivers n according to the owner's notification preferences.
// It runs after the action it reports on has finished and never fails it:
// delivery errors are logged and dropped.
func notifyOwner(ctx context.Context, notifier driven.Notifier, b *model.Binding, n driven.Notification) {
	if notifier == nil || b == nil {
		return
	}

	var err error
	switch b.Notify.Mode {
	case model.NotifyDisabled:
		return
	case model.NotifyChannel:
		if b.Notify.ChannelID != "" {
			err = notifier.NotifyChannel(ctx, b.Notify.ChannelID, n)
			break
		}
		err = notifier.NotifyUser(ctx, b.OwnerID, n)
	default:
		err = notifier.NotifyUser(ctx, b.OwnerID, n)
	}
	if err != nil {
		slog.Warn("owner notification failed", "owner", b.OwnerID, "title", n.Title, "error", err)
	}
}

// recordAction forwards to recorder when one is configured.
func recordAction(recorder driven.CampaignRecorder, action string, err error) {
	if recorder != nil {
		recorder.RecordAction(action, err)
	}
}
