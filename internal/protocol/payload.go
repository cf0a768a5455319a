package protocol

import (
	"encoding/binary"
	"fmt"
)

// DecodeSensor decodes a sensor frame payload. Payloads of any size other
// than SensorPayloadSize are rejected, which guards against a corrupted LEN
// that still happened to land on a tail byte.
func DecodeSensor(payload []byte) (Readings, bool) {
	var r Readings
	if len(payload) != SensorPayloadSize {
		return r, false
	}
	for i := range r {
		v := binary.BigEndian.Uint16(payload[i*2:])
		if v == ErrorSentinel {
			r[i] = Channel{Raw: 0, Error: true}
			continue
		}
		r[i] = Channel{Raw: v}
	}
	return r, true
}

// DecodeAck decodes a calibration acknowledgement payload. Only the first
// byte is significant; unknown codes and empty payloads are rejected.
func DecodeAck(payload []byte) (AckCode, bool) {
	if len(payload) < 1 {
		return 0, false
	}
	code := AckCode(payload[0])
	switch code {
	case AckPending, AckSuccess, AckFailed:
		return code, true
	default:
		return 0, false
	}
}

// Encode builds a wire frame around payload.
func Encode(frameType byte, payload []byte) ([]byte, error) {
	// LEN covers TYPE + PAYLOAD + TAIL and must fit in one byte.
	n := len(payload) + 2
	if n > 0xFF {
		return nil, fmt.Errorf("payload of %d bytes does not fit in a frame", len(payload))
	}
	out := make([]byte, 0, headerSize+n)
	out = append(out, Head, byte(n), frameType)
	out = append(out, payload...)
	return append(out, Tail), nil
}

// EncodeSensor builds a sensor frame the way the servo board does. Values
// equal to ErrorSentinel are sent as-is and decode as faulted channels.
func EncodeSensor(values [ChannelCount]uint16) []byte {
	payload := make([]byte, SensorPayloadSize)
	for i, v := range values {
		binary.BigEndian.PutUint16(payload[i*2:], v)
	}
	frame, _ := Encode(TypeSensor, payload)
	return frame
}

// EncodeAck builds a calibration acknowledgement frame.
func EncodeAck(code AckCode) []byte {
	frame, _ := Encode(TypeCalibrationAck, []byte{byte(code)})
	return frame
}
