package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// AckMarker opens every handshake acknowledgment payload.
	AckMarker = "MK"
	// IDWidth is the fixed width of the id field that follows the marker.
	IDWidth = 15

	ackHeaderSize = len(AckMarker) + IDWidth
)

var (
	ErrInvalidAckMarker = errors.New("protocol: handshake ack marker mismatch")
	ErrAckTooShort      = errors.New("protocol: handshake ack too short")
	ErrIDTooLong        = errors.New("protocol: connection id longer than id field")
)

// HandshakeAck is the server's answer to the credential handshake.
type HandshakeAck struct {
	ID       string
	PeerInfo map[string]any
}

// HasAckMarker reports whether payload starts with AckMarker.
func HasAckMarker(payload []byte) bool {
	return len(payload) >= len(AckMarker) && string(payload[:len(AckMarker)]) == AckMarker
}

// EncodeHandshakeAck builds the payload of a handshake acknowledgment:
//
//	["MK"][15 bytes: id, space padded][N bytes: JSON peer info]
func EncodeHandshakeAck(id string, info map[string]any) ([]byte, error) {
	if len(id) > IDWidth {
		return nil, fmt.Errorf("%w: %q", ErrIDTooLong, id)
	}
	if info == nil {
		info = map[string]any{}
	}
	body, err := json.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("encode peer info: %w", err)
	}

	out := make([]byte, 0, ackHeaderSize+len(body))
	out = append(out, AckMarker...)
	out = append(out, id...)
	out = append(out, bytes.Repeat([]byte{' '}, IDWidth-len(id))...)
	out = append(out, body...)
	return out, nil
}

// DecodeHandshakeAck parses a handshake acknowledgment payload.
// An empty JSON section yields an empty peer info map.
func DecodeHandshakeAck(payload []byte) (HandshakeAck, error) {
	if !HasAckMarker(payload) {
		return HandshakeAck{}, ErrInvalidAckMarker
	}
	if len(payload) < ackHeaderSize {
		return HandshakeAck{}, fmt.Errorf("%w: %d bytes", ErrAckTooShort, len(payload))
	}

	ack := HandshakeAck{
		ID:       string(bytes.TrimRight(payload[len(AckMarker):ackHeaderSize], " \x00")),
		PeerInfo: map[string]any{},
	}

	body := payload[ackHeaderSize:]
	if len(bytes.TrimSpace(body)) == 0 {
		return ack, nil
	}
	if err := json.Unmarshal(body, &ack.PeerInfo); err != nil {
		return HandshakeAck{}, fmt.Errorf("decode peer info: %w", err)
	}
	if ack.PeerInfo == nil {
		ack.PeerInfo = map[string]any{}
	}
	return ack, nil
}
