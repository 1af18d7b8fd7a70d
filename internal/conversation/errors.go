package conversation

import "errors"

var (
	// ErrValidation rejects outgoing content before any mutation happens.
	ErrValidation = errors.New("invalid message content")
	// ErrNetwork covers an unreachable responder and non-2xx answers.
	ErrNetwork = errors.New("responder unavailable")
	// ErrMalformedResponse means the responder answered 2xx without usable reply text.
	ErrMalformedResponse = errors.New("invalid response format from server")
	// ErrHistoryLoad wraps any failure of the initial history fetch.
	ErrHistoryLoad = errors.New("failed to load chat history")
	// ErrClosed is returned by operations on a closed workflow.
	ErrClosed = errors.New("workflow closed")
)
