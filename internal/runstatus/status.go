package runstatus

import "strings"

const (
	Connecting       = "Connecting"
	Connected        = "Connected"
	Reauthenticating = "Reauthenticating"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
)

const (
	KeyConnecting       = "connecting"
	KeyConnected        = "connected"
	KeyReauthenticating = "reauthenticating"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
)

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}
