package driven

import "context"

// Severity colors a notification.
type Severity int

const (
	SeverityInfo Severity = iota
	SeveritySuccess
	SeverityWarning
	SeverityError
)

// Notification is a short titled message for a user or channel.
type Notification struct {
	Title    string
	Body     string
	Severity Severity
}

// Notifier delivers notifications. Delivery is best effort; callers log
// failures and carry on.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, n Notification) error
	NotifyChannel(ctx context.Context, channelID string, n Notification) error
}
