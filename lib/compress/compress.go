// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the compression of a frame. Tags are persisted as
// the first byte of every frame; the values are format constants.
type Tag uint8

const (
	// None stores the payload as is.
	None Tag = 0
	// LZ4 is LZ4 block compression: fast, modest ratio.
	LZ4 Tag = 1
	// Zstd is zstd at the default level: better ratio for the
	// repetitive path names that dominate depmap nodes.
	Zstd Tag = 2
)

// MaxFrameSize bounds the declared uncompressed length of a frame so
// a corrupt header cannot trigger a huge allocation.
const MaxFrameSize = 1 << 30

// ErrCorruptFrame is returned by Decode for frames that cannot be
// decompressed to their declared length.
var ErrCorruptFrame = errors.New("corrupt compressed frame")

func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag parses the String form of a Tag.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so tags read
// naturally in YAML configuration.
func (tag Tag) MarshalText() ([]byte, error) {
	return []byte(tag.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (tag *Tag) UnmarshalText(text []byte) error {
	parsed, err := ParseTag(string(text))
	if err != nil {
		return err
	}
	*tag = parsed
	return nil
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxFrameSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Encode returns a frame holding data compressed with tag, or
// uncompressed if tag does not make it smaller.
func Encode(data []byte, tag Tag) ([]byte, error) {
	if len(data) > MaxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds maximum %d", len(data), MaxFrameSize)
	}

	payload := data
	used := None
	switch tag {
	case None:
	case LZ4:
		if compressed, ok := compressLZ4(data); ok {
			payload, used = compressed, LZ4
		}
	case Zstd:
		if compressed := zstdEncoder.EncodeAll(data, nil); len(compressed) < len(data) {
			payload, used = compressed, Zstd
		}
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}

	frame := make([]byte, 0, 1+binary.MaxVarintLen64+len(payload))
	frame = append(frame, byte(used))
	frame = binary.AppendUvarint(frame, uint64(len(data)))
	return append(frame, payload...), nil
}

// Decode returns the uncompressed contents of a frame.
func Decode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, fmt.Errorf("%w: %d-byte frame", ErrCorruptFrame, len(frame))
	}
	tag := Tag(frame[0])
	size, headerLength := binary.Uvarint(frame[1:])
	if headerLength <= 0 || size > MaxFrameSize {
		return nil, fmt.Errorf("%w: bad length header", ErrCorruptFrame)
	}
	payload := frame[1+headerLength:]
	expected := int(size)

	switch tag {
	case None:
		if len(payload) != expected {
			return nil, fmt.Errorf("%w: stored payload is %d bytes, header says %d",
				ErrCorruptFrame, len(payload), expected)
		}
		return payload, nil

	case LZ4:
		destination := make([]byte, expected)
		read, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorruptFrame, err)
		}
		if read != expected {
			return nil, fmt.Errorf("%w: lz4 produced %d bytes, want %d", ErrCorruptFrame, read, expected)
		}
		return destination, nil

	case Zstd:
		result, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, expected))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorruptFrame, err)
		}
		if len(result) != expected {
			return nil, fmt.Errorf("%w: zstd produced %d bytes, want %d", ErrCorruptFrame, len(result), expected)
		}
		return result, nil

	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrCorruptFrame, tag)
	}
}

func compressLZ4(data []byte) ([]byte, bool) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	// CompressBlock reports 0 for incompressible input.
	if err != nil || written == 0 || written >= len(data) {
		return nil, false
	}
	return destination[:written], true
}
