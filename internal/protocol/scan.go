package protocol

import "bytes"

// Result describes the outcome of a single Scan step.
type Result struct {
	// Consumed is the number of bytes at the head of the buffer the caller
	// must drop: leading garbage plus, when Complete, the whole frame.
	Consumed int

	// Garbage is the part of Consumed that preceded the header (or the whole
	// buffer when no header was present).
	Garbage int

	// Complete is set when a length-delimited frame was taken off the
	// buffer, whether or not it turned out to be well formed. When it is
	// false the caller must wait for more bytes.
	Complete bool

	// Malformed is set for a complete frame whose tail byte was wrong or
	// whose LEN cannot hold a TYPE and a TAIL.
	Malformed bool

	// Frame is set for a complete, tail-validated frame.
	Frame *Frame
}

// Scan looks for one frame at or after the head of buf.
//
// A buffer without any header byte cannot contain a frame and is consumed
// entirely. A frame whose LEN is satisfied but whose last byte is not the
// tail is consumed whole: the length field is trusted over re-scanning the
// bytes inside it.
func Scan(buf []byte) Result {
	k := bytes.IndexByte(buf, Head)
	if k < 0 {
		return Result{Consumed: len(buf), Garbage: len(buf)}
	}

	rest := buf[k:]
	if len(rest) < headerSize {
		return Result{Consumed: k, Garbage: k}
	}

	frameLen := headerSize + int(rest[1])
	if len(rest) < frameLen {
		return Result{Consumed: k, Garbage: k}
	}

	res := Result{Consumed: k + frameLen, Garbage: k, Complete: true}
	candidate := rest[:frameLen]
	if frameLen < headerSize+2 || candidate[frameLen-1] != Tail {
		res.Malformed = true
		return res
	}

	res.Frame = &Frame{
		Type:    candidate[2],
		Payload: candidate[3 : frameLen-1],
	}
	return res
}
