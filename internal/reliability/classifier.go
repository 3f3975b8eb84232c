package reliability

// ClassifyHTTPStatus maps a non-2xx backend status to a failure kind.
// Client errors mean the backend refused the credential request; everything else is
// treated as a connectivity problem.
func ClassifyHTTPStatus(code int) Kind {
	switch {
	case code >= 400 && code < 500 && code != 408 && code != 429:
		return KindAuth
	default:
		return KindNetwork
	}
}

// ClassifyRealtimeMessageType maps an upstream realtime error message type to a kind.
func ClassifyRealtimeMessageType(messageType string) Kind {
	switch messageType {
	case "auth_error", "unauthorized", "invalid_token", "token_expired":
		return KindAuth
	case "rate_limited", "resource_exhausted", "queue_overflow", "quota_exceeded", "session_time_limit_exceeded", "error":
		return KindNetwork
	default:
		return KindProtocol
	}
}
