package realtime

import "time"

const (
	// Max bytes per websocket frame read. History rides along with each turn.
	maxFrameBytes = 256 << 10

	// Max user message length (runes).
	maxMessageChars = 4000

	// Max history entries forwarded to the model.
	maxHistoryMessages = 50
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection event budget. Every chat.send is a full model turn.
	rateLimitEvents = 20
	rateLimitWindow = time.Minute

	// Upper bound on one chat turn.
	turnTimeout = 2 * time.Minute
)
