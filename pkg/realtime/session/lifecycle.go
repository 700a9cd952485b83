package session

// Lifecycle events are generated locally by the client, never decoded from
// the wire. They implement protocol.ServerEvent so subscribers observe
// connection state changes through the same handler path as remote events.

type ConnectedEvent struct{}

func (ConnectedEvent) EventType() string { return "connected" }

type DisconnectedEvent struct {
	Code   int
	Reason string
}

func (DisconnectedEvent) EventType() string { return "disconnected" }

type ReconnectingEvent struct {
	Attempt int
	Max     int
}

func (ReconnectingEvent) EventType() string { return "reconnecting" }
