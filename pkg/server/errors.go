package server

// Error is a request rejection; its text is sent to the client as is.
type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrNotLoggedIn = Error("Not logged in")
	// ErrAlreadyLoggedIn covers a username bound to another live connection
	// and a second login on the same connection.
	ErrAlreadyLoggedIn = Error("Already logged in")
	ErrAlreadyInGame   = Error("Already in game")
	ErrNoActiveGame    = Error("No active game")
	ErrTooManyAttempts = Error("Too many login attempts")
	ErrTooManyResets   = Error("Too many reset attempts")
	ErrUnknownType     = Error("Unknown message type")
	ErrInvalidFields   = Error("Invalid message fields")
)
