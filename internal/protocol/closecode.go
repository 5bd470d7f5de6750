package protocol

var closeCodeNames = map[int]string{
	1000: "Normal Closure",
	1001: "Going Away",
	1002: "Protocol Error",
	1003: "Unsupported Data",
	1004: "(For future)",
	1005: "No Status Received",
	1006: "Abnormal Closure",
	1007: "Invalid frame payload data",
	1008: "Policy Violation",
	1009: "Message too big",
	1010: "Missing Extension",
	1011: "Internal Error",
	1012: "Service Restart",
	1013: "Try Again Later",
	1014: "Bad Gateway",
	1015: "TLS Handshake",
}

// CloseReason maps a WebSocket close code to a human description, following the
// reserved ranges of RFC 6455 section 7.4. Codes outside every range (negative, or 5000
// and above) fall back to raw.
func CloseReason(code int, raw string) string {
	switch {
	case code >= 0 && code <= 999:
		return "(Unused)"
	case code >= 1016 && code <= 1999:
		return "(For WebSocket standard)"
	case code >= 2000 && code <= 2999:
		return "(For WebSocket extensions)"
	case code >= 3000 && code <= 3999:
		return "(For libraries and frameworks)"
	case code >= 4000 && code <= 4999:
		return "(For applications)"
	}
	if name, ok := closeCodeNames[code]; ok {
		return name
	}
	return raw
}
