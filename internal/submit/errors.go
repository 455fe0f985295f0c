package submit

import (
	"errors"
	"fmt"
	"strings"
)

// reasoner is implemented by transport errors that carry a message meant
// for the user (e.g. the backend's "error" field).
type reasoner interface {
	Reason() string
}

func reasonOf(err error) string {
	var r reasoner
	if errors.As(err, &r) {
		if s := r.Reason(); s != "" {
			return s
		}
	}
	return err.Error()
}

// LookupError reports that the technician list could not be fetched.
// Callers fall back to automatic assignment.
type LookupError struct {
	Err error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("admin lookup failed: %v", e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// SubmissionError reports that the ticket could not be created. No
// attachments were uploaded.
type SubmissionError struct {
	Err error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("ticket creation failed: %v", e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// Reason returns the text shown to the user.
func (e *SubmissionError) Reason() string {
	if e.Err == nil {
		return "unknown error"
	}
	return reasonOf(e.Err)
}

// PartialUploadError reports that some attachments of a created ticket
// could not be stored. The ticket itself is valid.
type PartialUploadError struct {
	TicketID string
	Failed   []FileOutcome
	Total    int
}

func (e *PartialUploadError) Error() string {
	names := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		names[i] = f.Filename
	}
	return fmt.Sprintf("ticket %s: %d of %d uploads failed: %s",
		e.TicketID, len(e.Failed), e.Total, strings.Join(names, ", "))
}

// Unwrap exposes every per-file error.
func (e *PartialUploadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// IsLookupError reports whether err is or wraps a *LookupError.
func IsLookupError(err error) bool {
	var le *LookupError
	return errors.As(err, &le)
}

// IsSubmissionError reports whether err is or wraps a *SubmissionError.
func IsSubmissionError(err error) bool {
	var se *SubmissionError
	return errors.As(err, &se)
}

// IsPartialUploadError reports whether err is or wraps a *PartialUploadError.
func IsPartialUploadError(err error) bool {
	var pe *PartialUploadError
	return errors.As(err, &pe)
}
