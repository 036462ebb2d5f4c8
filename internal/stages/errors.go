package stages

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error kinds for failed stage calls. Every transport or collaborator
// failure is mapped onto one of these; stage clients never panic and never
// leak library-specific error types.
const (
	KindUnreachable     = "unreachable"
	KindTimeout         = "timeout"
	KindInvalidResponse = "invalid_response"
	KindUnsupported     = "unsupported"
)

// StageError is the typed failure value returned by every stage client.
type StageError struct {
	Stage string
	Kind  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// ErrNotFound signals that a timing source has nothing for this input (no
// published transcript for the URL). It is an expected control-flow value,
// not a failure.
var ErrNotFound = errors.New("timing source has no data for this input")

// classify maps a transport-level error onto a StageError kind.
func classify(stage string, err error) *StageError {
	kind := KindUnreachable
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// invalidResponse wraps a malformed collaborator response.
func invalidResponse(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindInvalidResponse, Err: err}
}

// unsupported wraps an input the collaborator explicitly rejects (audio over
// the aligner's duration ceiling). The pipeline treats it as a routing
// signal, not a failure.
func unsupported(stage string, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindUnsupported, Err: err}
}
