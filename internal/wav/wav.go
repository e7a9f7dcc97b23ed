// Package wav wraps raw linear PCM samples in a canonical 44-byte RIFF/WAVE
// container and parses such containers back.
package wav

import (
	"encoding/binary"
	"errors"
	"time"
)

const (
	// HeaderSize is the size of the canonical WAV header in bytes.
	HeaderSize = 44

	// FormatPCM is the format tag for integer PCM.
	FormatPCM = 1

	DefaultChannels       = 1
	DefaultBytesPerSample = 2
)

// Decoding errors
var (
	ErrShortHeader = errors.New("wav: data shorter than header")
	ErrNotRIFF     = errors.New("wav: missing RIFF/WAVE tags")
	ErrNotPCM      = errors.New("wav: format is not integer PCM")
	ErrTruncated   = errors.New("wav: payload shorter than declared length")
)

// Header holds the fields of a canonical WAV header.
type Header struct {
	RIFFLength    uint32 // total length minus 8
	FormatLength  uint32
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataLength    uint32
}

// Container is a decoded WAV file.
type Container struct {
	Header  Header
	Payload []byte
}

// Duration returns the playback length implied by the header.
func (c *Container) Duration() time.Duration {
	if c.Header.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(len(c.Payload)) / float64(c.Header.ByteRate) * float64(time.Second))
}

// Encode wraps samples in a WAV container. Zero channels or bytesPerSample
// fall back to mono 16-bit. The payload is copied verbatim and is not checked
// for frame alignment.
func Encode(samples []byte, sampleRate, channels, bytesPerSample int) []byte {
	if channels == 0 {
		channels = DefaultChannels
	}
	if bytesPerSample == 0 {
		bytesPerSample = DefaultBytesPerSample
	}

	dataLength := len(samples)
	total := HeaderSize + dataLength
	buf := make([]byte, total)
	le := binary.LittleEndian

	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], uint32(total-8))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], FormatPCM)
	le.PutUint16(buf[22:24], uint16(channels))
	le.PutUint32(buf[24:28], uint32(sampleRate))
	le.PutUint32(buf[28:32], uint32(sampleRate*channels*bytesPerSample))
	le.PutUint16(buf[32:34], uint16(channels*bytesPerSample))
	le.PutUint16(buf[34:36], uint16(bytesPerSample*8))

	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], uint32(dataLength))

	copy(buf[HeaderSize:], samples)
	return buf
}

// Decode parses a canonical 44-byte-header WAV file. Extra bytes after the
// declared payload are ignored.
func Decode(data []byte) (*Container, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortHeader
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" ||
		string(data[12:16]) != "fmt " || string(data[36:40]) != "data" {
		return nil, ErrNotRIFF
	}

	le := binary.LittleEndian
	h := Header{
		RIFFLength:    le.Uint32(data[4:8]),
		FormatLength:  le.Uint32(data[16:20]),
		Format:        le.Uint16(data[20:22]),
		Channels:      le.Uint16(data[22:24]),
		SampleRate:    le.Uint32(data[24:28]),
		ByteRate:      le.Uint32(data[28:32]),
		BlockAlign:    le.Uint16(data[32:34]),
		BitsPerSample: le.Uint16(data[34:36]),
		DataLength:    le.Uint32(data[40:44]),
	}
	if h.Format != FormatPCM {
		return nil, ErrNotPCM
	}

	end := uint64(HeaderSize) + uint64(h.DataLength)
	if uint64(len(data)) < end {
		return nil, ErrTruncated
	}

	payload := make([]byte, h.DataLength)
	copy(payload, data[HeaderSize:end])
	return &Container{Header: h, Payload: payload}, nil
}
