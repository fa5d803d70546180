package domain

import "errors"

// Input/format errors: rejected synchronously, no state mutated.
var (
	// ErrSecretMissing is returned when a join code is verified without a configured unlock secret.
	ErrSecretMissing = errors.New("unlock secret missing")
	// ErrCodeMalformed indicates a join code that does not match any known format.
	ErrCodeMalformed = errors.New("join code malformed")
	// ErrChecksumInvalid indicates a garbled code or a wrong unlock secret.
	ErrChecksumInvalid = errors.New("join code checksum invalid")
)

// Policy/window errors: rejected synchronously with distinguished messages.
var (
	// ErrTooEarly means the guarded clock is before the permitted start instant.
	ErrTooEarly = errors.New("too early to join")
	// ErrWindowExpired means the guarded clock is past start + join latency.
	ErrWindowExpired = errors.New("join window expired")
	// ErrWindowInactive maps the remote store's access-denied-outside-window
	// condition; callers surface it as "not available right now".
	ErrWindowInactive = errors.New("quiz is not available right now")
)

// Integrity errors: block the dependent operation entirely.
var (
	// ErrAutoTimeDisabled means the host's automatic network time setting is off.
	ErrAutoTimeDisabled = errors.New("automatic network time is disabled")
	// ErrDefinitionInvalid marks a cached definition that failed the strict
	// schema parse; the record is treated as corrupt and must be re-downloaded.
	ErrDefinitionInvalid = errors.New("quiz definition invalid")
)

// Lookup errors.
var (
	// ErrQuizNotFound indicates no quiz exists for the given ID or public code.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrResponseNotFound indicates no response document matched the query.
	ErrResponseNotFound = errors.New("response not found")
	// ErrPendingNotFound indicates the queued submission no longer exists.
	ErrPendingNotFound = errors.New("pending submission not found")
)

// Attempt lifecycle errors.
var (
	// ErrAlreadyAttempted blocks retakes for a student or device.
	ErrAlreadyAttempted = errors.New("quiz already attempted")
	// ErrDisqualified is terminal for the attempt; no further mutation or submission.
	ErrDisqualified = errors.New("attempt disqualified")
	// ErrAlreadySubmitted rejects mutation after a completed submission.
	ErrAlreadySubmitted = errors.New("attempt already submitted")
	// ErrQuestionUnknown indicates an answer for a question the quiz does not contain.
	ErrQuestionUnknown = errors.New("question not in quiz")
	// ErrAnswerInvalid indicates an answer whose shape does not fit the question type.
	ErrAnswerInvalid = errors.New("answer invalid for question type")
	// ErrRequiredDetailsMissing keeps an upload queued until the student fills
	// every required pre-attempt field.
	ErrRequiredDetailsMissing = errors.New("required details missing")
)
