package panel

import (
	"errors"
	"fmt"
)

// Sentinel errors classifying every failure mode of a panel call.
var (
	// ErrTransport is returned for connection failures, timeouts and
	// non-2xx HTTP statuses.
	ErrTransport = errors.New("panel: transport failure")

	// ErrMalformedResponse is returned when a response cannot be parsed,
	// or is an HTML error page where JSON was expected.
	ErrMalformedResponse = errors.New("panel: malformed response")

	// ErrSchema is returned when a response parses but is missing the
	// expected field for that endpoint.
	ErrSchema = errors.New("panel: response missing expected field")

	// ErrSemanticFailure is returned when the panel explicitly reported
	// that the requested operation did not complete.
	ErrSemanticFailure = errors.New("panel: remote call reported failure")

	// ErrNotFound is returned when a requested VPS is absent from the
	// roster after all lookup strategies.
	ErrNotFound = errors.New("panel: vps not found")
)

// CallError wraps a sentinel classification with call context so a
// failed resource can be diagnosed from the run log without re-running.
type CallError struct {
	Err      error  // one of the sentinels above
	Endpoint string // panel action, e.g. "vs", "bwreset", "managevps"
	VPSID    string // empty for roster-level calls
	Detail   string // human context (status line, parse error, ...)
	Excerpt  string // raw response excerpt
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%v: endpoint=%s", e.Err, e.Endpoint)
	if e.VPSID != "" {
		msg += " vpsid=" + e.VPSID
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Excerpt != "" {
		msg += fmt.Sprintf(" (response: %q)", e.Excerpt)
	}
	return msg
}

func (e *CallError) Unwrap() error {
	return e.Err
}

// errorKind maps a sentinel to its metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrTransport):
		return "transport"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrSchema):
		return "schema"
	case errors.Is(err, ErrSemanticFailure):
		return "semantic"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "other"
	}
}

// excerptLimit caps how much of a raw response body is carried in errors.
const excerptLimit = 200

// excerpt truncates a response body for inclusion in a CallError.
func excerpt(body []byte) string {
	if len(body) > excerptLimit {
		return string(body[:excerptLimit]) + "..."
	}
	return string(body)
}
