package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// MarshalPayload turns application data into frame payload bytes.
// nil becomes empty, strings and byte slices pass through, everything else is JSON encoded
// (booleans and numbers therefore keep their plain decimal form).
func MarshalPayload(data any) ([]byte, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return out, nil
}

// ParsePayload decodes frame payload bytes.
// Payloads starting with '{' or '[' are parsed as JSON; anything else is returned as a string.
// On a JSON error the returned value is nil.
func ParsePayload(raw []byte) (any, error) {
	if len(raw) > 0 && (raw[0] == '{' || raw[0] == '[') {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("parse payload: %w", err)
		}
		return v, nil
	}
	return string(raw), nil
}

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// FormatBytes formats a byte count with two decimals, e.g. "512.00 Bytes" or "1.50 KB".
func FormatBytes(n int) string {
	if n <= 0 {
		return "0 Bytes"
	}

	b := float64(n)
	unitIdx := 0
	for b >= 1024 && unitIdx < len(byteUnits)-1 {
		b /= 1024
		unitIdx++
	}
	return strconv.FormatFloat(b, 'f', 2, 64) + " " + byteUnits[unitIdx]
}
