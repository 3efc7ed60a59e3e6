package notify

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/edvin/mfafarm/internal/model"
)

// Wire frame layout:
//
//	[2B magic 0x4D46][1B version][1B reserved][4B body length][CBOR body...]
const (
	frameMagic   uint16 = 0x4D46 // "MF"
	frameVersion byte   = 1
	frameHdrSize        = 8
	// MaxFrameSize keeps frames well inside a single UDP datagram.
	MaxFrameSize = 1400
)

var (
	ErrInvalidMagic    = errors.New("notify: invalid magic bytes")
	ErrVersionMismatch = errors.New("notify: unsupported frame version")
	ErrFrameTooLarge   = errors.New("notify: frame exceeds maximum size")
	ErrShortFrame      = errors.New("notify: truncated frame")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("notify: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("notify: CBOR decoder initialization failed: " + err.Error())
	}
}

// EncodeFrame serializes n into a single wire frame.
func EncodeFrame(n model.Notification) ([]byte, error) {
	if !n.Kind.Valid() {
		return nil, fmt.Errorf("notify: invalid kind %d", n.Kind)
	}
	body, err := encMode.Marshal(n)
	if err != nil {
		return nil, fmt.Errorf("notify: encode body: %w", err)
	}
	if frameHdrSize+len(body) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, frameHdrSize+len(body))
	binary.BigEndian.PutUint16(frame[0:2], frameMagic)
	frame[2] = frameVersion
	frame[3] = 0
	binary.BigEndian.PutUint32(frame[4:8], uint32(len(body)))
	copy(frame[frameHdrSize:], body)
	return frame, nil
}

// DecodeFrame parses a wire frame produced by EncodeFrame.
func DecodeFrame(frame []byte) (model.Notification, error) {
	var n model.Notification
	if len(frame) < frameHdrSize {
		return n, ErrShortFrame
	}
	if binary.BigEndian.Uint16(frame[0:2]) != frameMagic {
		return n, ErrInvalidMagic
	}
	if frame[2] != frameVersion {
		return n, ErrVersionMismatch
	}
	size := binary.BigEndian.Uint32(frame[4:8])
	if int(size) != len(frame)-frameHdrSize {
		return n, ErrShortFrame
	}
	if err := decMode.Unmarshal(frame[frameHdrSize:], &n); err != nil {
		return n, fmt.Errorf("notify: decode body: %w", err)
	}
	if !n.Kind.Valid() {
		return n, fmt.Errorf("notify: invalid kind %d", n.Kind)
	}
	return n, nil
}
