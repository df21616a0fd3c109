// Package slm streams computed holograms to spatial light modulator
// displays over gRPC.
package slm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/holofab/internal/cgh"
)

// FrameFormat identifies the payload layout carried in each streamed
// BytesValue. It is announced in the stream header under FormatKey.
const (
	FormatKey   = "x-holofab-frame-format"
	FrameFormat = "phase8-v1"
)

// frameHeaderSize is sequence(8) + height(4) + width(4) + computed-at(8).
const frameHeaderSize = 24

// ErrShortFrame is returned when a payload is smaller than its header
// claims.
var ErrShortFrame = errors.New("slm: short frame")

// EncodeFrame packs h as a big-endian header followed by the row-major
// phase bytes.
func EncodeFrame(h *cgh.Hologram) []byte {
	buf := make([]byte, frameHeaderSize+len(h.Phase))
	binary.BigEndian.PutUint64(buf[0:8], h.Sequence)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.Height))
	binary.BigEndian.PutUint32(buf[12:16], uint32(h.Width))
	binary.BigEndian.PutUint64(buf[16:24], uint64(h.ComputedAt.UnixNano()))
	copy(buf[frameHeaderSize:], h.Phase)
	return buf
}

// DecodeFrame is the inverse of EncodeFrame. The returned hologram owns
// a copy of the phase bytes.
func DecodeFrame(b []byte) (*cgh.Hologram, error) {
	if len(b) < frameHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	h := &cgh.Hologram{
		Sequence:   binary.BigEndian.Uint64(b[0:8]),
		Height:     int(binary.BigEndian.Uint32(b[8:12])),
		Width:      int(binary.BigEndian.Uint32(b[12:16])),
		ComputedAt: time.Unix(0, int64(binary.BigEndian.Uint64(b[16:24]))),
	}
	n := h.Height * h.Width
	if len(b)-frameHeaderSize != n {
		return nil, fmt.Errorf("%w: %dx%d needs %d phase bytes, got %d",
			ErrShortFrame, h.Height, h.Width, n, len(b)-frameHeaderSize)
	}
	h.Phase = make([]byte, n)
	copy(h.Phase, b[frameHeaderSize:])
	return h, nil
}
