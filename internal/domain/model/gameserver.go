package model

import "time"

// GameServerStatus is what the public status API reports for a game server.
type GameServerStatus struct {
	Address       string
	Online        bool
	PlayersOnline int
	PlayersMax    int
	Version       string
	MOTD          string
	LatencyMS     int
	IconURL       string
}

// GameLaunch is the result of bootstrapping the game server inside a codespace.
type GameLaunch struct {
	Wake      WakeResult
	TunnelURL string
	// Address is empty when the server started but its address was not
	// reported in time.
	Address string
}

// GameWatch registers a game server address for periodic status checks.
// Transitions between online and offline are posted to ChannelID.
type GameWatch struct {
	Address   string
	OwnerID   string
	ChannelID string
	// LastOnline is nil until the first check completes.
	LastOnline *bool
	CreatedAt  time.Time
}
