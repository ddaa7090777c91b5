// Package conversation – controller-level error values.
//
// These cover the predictable failure cases callers are expected to branch
// on. Remote failures keep their remote.FetchError/WriteError classification
// and are additionally captured into the controller's LastError state.
package conversation

import "errors"

var (
	// ErrNoActiveConversation is returned when an edit or regenerate is
	// attempted with no active chat. The operation aborts before any
	// remote call.
	ErrNoActiveConversation = errors.New("no active conversation")

	// ErrNoAssistantMessage is returned when a regenerate is attempted on a
	// transcript with no prior assistant turn.
	ErrNoAssistantMessage = errors.New("no assistant message to regenerate")

	// ErrMessageNotFound is returned when an edit targets a message id that
	// is not in the visible transcript.
	ErrMessageNotFound = errors.New("message not found in conversation")

	// ErrNoQuestion is returned when a retry is requested but the
	// transcript holds no user turn to re-ask.
	ErrNoQuestion = errors.New("no question to retry")

	// ErrSuperseded is returned when an in-flight answer arrives after the
	// active chat changed; the answer is discarded instead of mutating the
	// new chat's transcript.
	ErrSuperseded = errors.New("answer superseded by conversation switch")
)
