package pipeline

import "fmt"

// SkipReasonDuration is the stage-log reason recorded when audio exceeds a
// stage's duration ceiling.
const SkipReasonDuration = "duration_exceeded"

// Decision is the result of a duration check: either proceed with the stage
// call or skip it with a recorded reason.
type Decision struct {
	Proceed bool
	Reason  string
}

// CheckDuration validates audio duration against a stage's ceiling before
// the stage is invoked. Audio at exactly the ceiling proceeds; anything over
// is skipped. A non-positive limit means the stage has no ceiling. Pure, no
// I/O: skipping is expected control flow, never an error.
func CheckDuration(durationSec, limitSec float64) Decision {
	if limitSec <= 0 || durationSec <= limitSec {
		return Decision{Proceed: true}
	}
	return Decision{
		Proceed: false,
		Reason:  fmt.Sprintf("%s: audio is %.1fs, ceiling is %.1fs", SkipReasonDuration, durationSec, limitSec),
	}
}
