package zone

import "errors"

// Sentinel errors for zone store operations. Handlers map these onto the
// response envelope with errors.Is.
var (
	// ErrInvalidInput marks a semantically invalid payload, such as an
	// empty host list or an address that does not parse.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned for a missing or mismatched token. It is
	// also returned when the zone itself does not exist, so callers cannot
	// probe for zone existence through error shapes.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict is returned when a caller-supplied FQDN is already taken.
	ErrConflict = errors.New("fqdn already registered")

	// ErrInternal wraps persistence failures. The in-memory state is
	// unchanged when it is returned; the operation can be safely retried.
	ErrInternal = errors.New("internal storage error")
)
