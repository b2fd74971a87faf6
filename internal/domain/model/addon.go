package model

import "time"

// AddonEventType names an event the in-codespace addon queues for the bot.
type AddonEventType string

const (
	AddonBackupError     AddonEventType = "backup_error"
	AddonBackupSuccess   AddonEventType = "backup_success"
	AddonGameStatus      AddonEventType = "minecraft_status"
	AddonCodespaceStatus AddonEventType = "codespace_status"
)

// AddonEvent is one queued event. Payload keeps the addon's JSON object as
// decoded values; its keys depend on Type.
type AddonEvent struct {
	ID      int64
	Type    AddonEventType
	UserID  string
	Payload map[string]any
}

// AddonStats counts what the event poller has seen since startup.
type AddonStats struct {
	Polled    int
	Processed int
	Failed    int
	// LastPoll is zero until the first cycle completes.
	LastPoll time.Time
	// Sources lists the tunnel URLs polled in the last cycle.
	Sources []string
}
