package pages

import "fmt"

// Reason classifies why an entry did not become a page.
type Reason string

const (
	ReasonUnsupportedFormat Reason = "unsupported-format"
	ReasonIgnored           Reason = "ignored"
	ReasonUnsafePath        Reason = "unsafe-path"
	ReasonDecodeFailed      Reason = "decode-failed"
)

// Diagnostic is a non-fatal skip record.
type Diagnostic struct {
	Path   string
	Reason Reason
	Err    error
}

func (d Diagnostic) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %s: %v", d.Path, d.Reason, d.Err)
	}
	return fmt.Sprintf("%s: %s", d.Path, d.Reason)
}

// Count returns how many diagnostics carry the given reason.
func Count(diags []Diagnostic, reason Reason) int {
	n := 0
	for _, d := range diags {
		if d.Reason == reason {
			n++
		}
	}
	return n
}
