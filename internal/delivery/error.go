package delivery

import "fmt"

// Kind classifies why a delivery failed.
type Kind string

const (
	KindConfig      Kind = "config"      // missing credential; never retryable
	KindValidation  Kind = "validation"  // malformed input, caught before any network call
	KindTimeout     Kind = "timeout"     // request exceeded the client deadline
	KindUnreachable Kind = "unreachable" // connection refused / no route to host
	KindDNS         Kind = "dns"         // name resolution failed
	KindUpstream    Kind = "upstream"    // non-2xx response from the dispatch endpoint
)

// Error is the single failure type surfaced by the client, carrying the
// classification and enough context to diagnose the failed hop.
type Error struct {
	Kind       Kind
	StatusCode int    // set for KindUpstream
	Body       string // truncated upstream response body, if any
	Number     string
	URL        string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("delivery %s: status %d: %s", e.Kind, e.StatusCode, e.Body)
	}
	if e.Err != nil {
		return fmt.Sprintf("delivery %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("delivery %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }
