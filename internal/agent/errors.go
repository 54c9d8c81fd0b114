package agent

import "errors"

// ErrMalformedToolCall is returned when the model emits a tool call the
// loop cannot act on, such as one with an empty function name.
var ErrMalformedToolCall = errors.New("malformed tool call")

// ErrToolTurnLimit is returned when a request exceeds the configured
// maximum number of tool turns without the model producing a final
// answer. It guards against models that call tools forever.
var ErrToolTurnLimit = errors.New("tool turn limit exceeded")
