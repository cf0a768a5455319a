// Package protocol implements the framing and payload codec of the joint
// module bus: the servo board multiplexes 21 magnetic encoders and the
// calibration status of the remote encoder board onto one serial stream.
//
// Every frame on the wire has the shape
//
//	HEAD(0xFE) LEN TYPE PAYLOAD... TAIL(0xFF)
//
// where LEN counts TYPE, PAYLOAD and TAIL, so a frame occupies 2+LEN bytes.
package protocol

const (
	// Head marks the first byte of a frame.
	Head byte = 0xFE
	// Tail marks the last byte of a frame.
	Tail byte = 0xFF

	// TypeSensor frames carry one reading for every encoder channel.
	TypeSensor byte = 0x01
	// TypeCalibrationAck frames carry a single calibration status code.
	TypeCalibrationAck byte = 0x02

	// CommandCalibrate is written unframed to the device to request a
	// mechanical zero calibration.
	CommandCalibrate byte = 0xCA

	// ChannelCount is the number of encoder channels on the bus.
	ChannelCount = 21

	// SensorPayloadSize is the exact payload size of a sensor frame.
	SensorPayloadSize = ChannelCount * 2

	// ErrorSentinel is reported by the encoder board for a channel whose
	// encoder is disconnected or faulted.
	ErrorSentinel uint16 = 0xFFFF

	// EncoderResolution is the number of raw counts per revolution.
	EncoderResolution = 16384

	// headerSize covers HEAD and LEN.
	headerSize = 2
	// MaxFrameSize is the largest frame LEN can describe.
	MaxFrameSize = headerSize + 0xFF
	// SensorFrameSize is the on-wire size of a sensor frame, the largest
	// frame the board sends.
	SensorFrameSize = headerSize + 1 + SensorPayloadSize + 1
)

// Frame is one tail-validated frame. Payload aliases the scanned buffer and
// is only valid until the buffer is modified.
type Frame struct {
	Type    byte
	Payload []byte
}

// Channel is one encoder slot. Error implies Raw == 0.
type Channel struct {
	Raw   uint16 `json:"raw"`
	Error bool   `json:"error"`
}

// Degrees converts the raw encoder count to a mechanical angle.
func (c Channel) Degrees() float64 {
	return float64(c.Raw) * 360.0 / EncoderResolution
}

// Readings holds one value per channel, in bus order.
type Readings [ChannelCount]Channel

// AckCode is the status byte of a calibration acknowledgement frame.
type AckCode byte

const (
	AckPending AckCode = 1
	AckSuccess AckCode = 2
	AckFailed  AckCode = 3
)

func (c AckCode) String() string {
	switch c {
	case AckPending:
		return "pending"
	case AckSuccess:
		return "success"
	case AckFailed:
		return "failed"
	default:
		return "unknown"
	}
}
