package visit

import (
	"time"

	"github.com/xkilldash9x/marquee/internal/urlfile"
)

// ErrorKind classifies why a visit failed. Failures are ordinary values, not
// Go errors: the loop records them and moves on.
type ErrorKind string

const (
	// ErrorNone marks a successful visit.
	ErrorNone ErrorKind = ""
	// ErrorUnreachable means the pre-check probe failed and the browser was
	// never involved.
	ErrorUnreachable ErrorKind = "unreachable"
	// ErrorDriver covers navigation timeouts, tab crashes and renderer
	// failures inside the browser.
	ErrorDriver ErrorKind = "driver"
	// ErrorPage means navigation landed on an error page, detected from
	// the final URL. Retrying would land on the same page.
	ErrorPage ErrorKind = "error_page"
)

// Outcome is the transient result of a single visit. It is folded into the
// health monitor's counters and never persisted on its own.
type Outcome struct {
	Entry        urlfile.Entry
	Success      bool
	Attempts     int
	LoadDuration time.Duration
	ErrorKind    ErrorKind
	Err          error
}

// Failed reports whether the outcome should count against the URL.
func (o Outcome) Failed() bool { return !o.Success }
