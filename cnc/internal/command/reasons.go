package command

// Retryable reasons come back from a node's command-result error field, or
// are synthesized locally (send_failed, timeout) when the router itself
// cannot reach the node. A command failing for any other reason is treated
// as non-retryable and moves straight to the failed state.
const (
	ReasonSendFailed     = "send_failed"
	ReasonTransportError = "transport_error"
	ReasonTimeout        = "timeout"

	ReasonNodeOffline        = "node_offline"
	ReasonValidationError    = "validation_error"
	ReasonUnsupportedCommand = "unsupported_command"
	ReasonNotImplemented     = "not_implemented"
)

var retryableReasons = map[string]bool{
	ReasonSendFailed:     true,
	ReasonTransportError: true,
	ReasonTimeout:        true,
}

// isRetryable reports whether reason permits another delivery attempt. An
// unrecognized reason is treated as non-retryable — retrying an error the
// router does not understand risks looping forever on something a node will
// never resolve by itself.
func isRetryable(reason string) bool {
	return retryableReasons[reason]
}
