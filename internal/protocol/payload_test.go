package protocol

import (
	"encoding/json"
	"math"
	"testing"
)

// TestMarshalPayload tests serialization of application data
func TestMarshalPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      any
		want      string
		wantError bool
	}{
		{"nil", nil, "", false},
		{"string", "hello", "hello", false},
		{"bytes", []byte("raw"), "raw", false},
		{"raw json", json.RawMessage(`{"a":1}`), `{"a":1}`, false},
		{"bool", true, "true", false},
		{"int", 42, "42", false},
		{"float", 1.5, "1.5", false},
		{"map", map[string]any{"client_id": "x"}, `{"client_id":"x"}`, false},
		{"slice", []int{1, 2}, `[1,2]`, false},
		{"struct", struct {
			A string `json:"a"`
		}{"b"}, `{"a":"b"}`, false},
		{"channel", make(chan int), "", true},
		{"nan", math.NaN(), "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := MarshalPayload(tt.data)
			if (err != nil) != tt.wantError {
				t.Fatalf("MarshalPayload() error = %v, wantError %v", err, tt.wantError)
			}
			if string(got) != tt.want {
				t.Errorf("MarshalPayload() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestParsePayload tests decoding of received payloads
func TestParsePayload(t *testing.T) {
	t.Parallel()

	t.Run("object", func(t *testing.T) {
		v, err := ParsePayload([]byte(`{"a":"b"}`))
		if err != nil {
			t.Fatalf("ParsePayload() error: %v", err)
		}
		m, ok := v.(map[string]any)
		if !ok || m["a"] != "b" {
			t.Errorf("ParsePayload() = %#v, want map with a=b", v)
		}
	})

	t.Run("array", func(t *testing.T) {
		v, err := ParsePayload([]byte(`[1,2,3]`))
		if err != nil {
			t.Fatalf("ParsePayload() error: %v", err)
		}
		if arr, ok := v.([]any); !ok || len(arr) != 3 {
			t.Errorf("ParsePayload() = %#v, want 3 element slice", v)
		}
	})

	t.Run("plain text", func(t *testing.T) {
		v, err := ParsePayload([]byte("hello"))
		if err != nil || v != "hello" {
			t.Errorf("ParsePayload() = %#v, %v; want \"hello\"", v, err)
		}
	})

	t.Run("number stays text", func(t *testing.T) {
		v, _ := ParsePayload([]byte("42"))
		if v != "42" {
			t.Errorf("ParsePayload() = %#v, want \"42\"", v)
		}
	})

	t.Run("empty", func(t *testing.T) {
		v, err := ParsePayload(nil)
		if err != nil || v != "" {
			t.Errorf("ParsePayload() = %#v, %v; want empty string", v, err)
		}
	})

	t.Run("broken json", func(t *testing.T) {
		v, err := ParsePayload([]byte(`{"a":`))
		if err == nil {
			t.Error("ParsePayload() expected error")
		}
		if v != nil {
			t.Errorf("ParsePayload() = %#v, want nil", v)
		}
	})
}

// TestFormatBytes tests human readable sizes
func TestFormatBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		n    int
		want string
	}{
		{0, "0 Bytes"},
		{5, "5.00 Bytes"},
		{1023, "1023.00 Bytes"},
		{1024, "1.00 KB"},
		{1536, "1.50 KB"},
		{100 * 1024 * 1024, "100.00 MB"},
	}

	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
