package session

// ErrorType discriminates error events surfaced to subscribers.
type ErrorType string

const (
	// ErrConnection is emitted when a send is attempted while the channel
	// is not open, or when the channel fails to open.
	ErrConnection ErrorType = "CONNECTION_ERROR"
	// ErrParse is emitted when an inbound frame is not valid JSON or does
	// not match the expected shape.
	ErrParse ErrorType = "PARSE_ERROR"
	// ErrAuth is emitted when the remote side rejects the session
	// configuration.
	ErrAuth ErrorType = "AUTH_ERROR"
	// ErrRateLimit is emitted when the remote side signals quota
	// exhaustion.
	ErrRateLimit ErrorType = "RATE_LIMIT_ERROR"
	// ErrDevice is emitted when a capture device is denied or unavailable.
	ErrDevice ErrorType = "DEVICE_ERROR"
	// ErrPlayback is emitted on a local audio decode or scheduling
	// failure.
	ErrPlayback ErrorType = "PLAYBACK_ERROR"
)

// ErrorEvent is delivered through the same subscriber path as protocol
// events. It satisfies protocol.ServerEvent.
type ErrorEvent struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
}

func (ErrorEvent) EventType() string { return "error" }

func (e ErrorEvent) Error() string { return string(e.Type) + ": " + e.Message }

// classifyErrorInfo maps a wire error object onto the local taxonomy.
// Returns "" when the remote error has no local classification; such
// errors are still surfaced verbatim as protocol.ServerError events.
func classifyErrorInfo(typ, code string) ErrorType {
	switch {
	case typ == "rate_limit_error" || code == "rate_limited":
		return ErrRateLimit
	case typ == "auth_error" || typ == "invalid_session" || code == "unauthorized":
		return ErrAuth
	default:
		return ""
	}
}
