package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrInvalidWAV = errors.New("invalid wav data")

const wavHeaderSize = 44

type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

type WAVInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
}

// EncodeWAV wraps little-endian 16-bit PCM in a canonical RIFF container.
func EncodeWAV(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channels must be positive, got %d", channels)
	}
	pcm = PadEven(pcm)

	const bitsPerSample = 16
	dataSize := uint32(len(pcm))
	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * bitsPerSample / 8,
		BlockAlign:    uint16(channels) * bitsPerSample / 8,
		BitsPerSample: bitsPerSample,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write wav header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

func IsWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

// DecodeWAV walks the RIFF chunks and returns the raw PCM payload of the
// data chunk. Only 16-bit integer PCM is accepted.
func DecodeWAV(data []byte) ([]byte, WAVInfo, error) {
	if !IsWAV(data) {
		return nil, WAVInfo{}, fmt.Errorf("%w: missing RIFF/WAVE header", ErrInvalidWAV)
	}

	var info WAVInfo
	var haveFmt bool
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(data) {
				return nil, WAVInfo{}, fmt.Errorf("%w: short fmt chunk", ErrInvalidWAV)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			info.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			info.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(data[body+14:]))
			if format != 1 {
				return nil, WAVInfo{}, fmt.Errorf("%w: unsupported audio format %d", ErrInvalidWAV, format)
			}
			if info.BitsPerSample != 16 {
				return nil, WAVInfo{}, fmt.Errorf("%w: unsupported bit depth %d", ErrInvalidWAV, info.BitsPerSample)
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, WAVInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrInvalidWAV)
			}
			end := body + size
			if end > len(data) {
				end = len(data)
			}
			return data[body:end], info, nil
		}

		pos = body + size + size%2
	}

	return nil, WAVInfo{}, fmt.Errorf("%w: missing data chunk", ErrInvalidWAV)
}

// StripWAVHeader returns the PCM payload of a WAV file, or data unchanged
// when it is not a WAV container.
func StripWAVHeader(data []byte) []byte {
	if !IsWAV(data) {
		return data
	}
	pcm, _, err := DecodeWAV(data)
	if err != nil {
		return data
	}
	return pcm
}
