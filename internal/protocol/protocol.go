package protocol

import (
	"errors"
	"fmt"
)

const (
	headerSize = 4

	// Magic marker carried in bytes 2 and 3 of every frame.
	MagicA byte = 25
	MagicB byte = 151

	minSignal = 0
	maxSignal = 9999
)

var (
	ErrFrameTooShort    = errors.New("protocol: frame shorter than header")
	ErrInvalidMagic     = errors.New("protocol: invalid magic bytes")
	ErrInvalidSignal    = errors.New("protocol: invalid signal digits")
	ErrSignalOutOfRange = errors.New("protocol: signal code out of range")
)

// Frame is one decoded wire unit.
// Payload references the input data - do not modify it.
type Frame struct {
	Signal  int
	Payload []byte
}

// IsHandshake reports whether the frame carries signal 0.
func (f Frame) IsHandshake() bool {
	return f.Signal == 0
}

// Encode packs the signal into two base-100 digit pairs, appends the magic marker and the payload.
//
//	[1 byte: signal / 100][1 byte: signal % 100][1 byte: 25][1 byte: 151][N bytes: payload]
func Encode(signal int, payload []byte) ([]byte, error) {
	if signal < minSignal || signal > maxSignal {
		return nil, fmt.Errorf("%w: %d", ErrSignalOutOfRange, signal)
	}

	out := make([]byte, headerSize+len(payload))
	out[0] = byte(signal / 100)
	out[1] = byte(signal % 100)
	out[2] = MagicA
	out[3] = MagicB
	copy(out[headerSize:], payload)
	return out, nil
}

// Decode checks the magic marker and rebuilds the signal code as 100*byte0 + byte1.
func Decode(data []byte) (Frame, error) {
	if len(data) < headerSize {
		return Frame{}, ErrFrameTooShort
	}
	if data[2] != MagicA || data[3] != MagicB {
		return Frame{}, ErrInvalidMagic
	}
	if data[0] > 99 || data[1] > 99 {
		return Frame{}, fmt.Errorf("%w: %d %d", ErrInvalidSignal, data[0], data[1])
	}

	return Frame{
		Signal:  100*int(data[0]) + int(data[1]),
		Payload: data[headerSize:],
	}, nil
}
