package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/book-expert/align-service/internal/core"
	"github.com/hajimehoshi/go-mp3"
)

// Format identifies an encoded audio container.
type Format string

// Supported input formats.
const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatRaw Format = "raw"
)

// RawSampleRate is the rate assumed for headerless .raw/.pcm input.
const RawSampleRate = 16000

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
	wavHeaderSize       = 12
	chunkHeaderSize     = 8
	fmtChunkMinSize     = 16
	mp3Channels         = 2
	pcm16Scale          = 32768.0
)

var (
	// ErrUnsupportedFormat is returned for an extension no decoder handles.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrMalformedWAV is returned for a RIFF/WAVE stream that cannot be parsed.
	ErrMalformedWAV = errors.New("malformed wav data")
	// ErrOddPCMLength is returned when 16-bit PCM data has an odd byte count.
	ErrOddPCMLength = errors.New("pcm16 data has odd byte length")
)

// FormatFromName infers the audio format from a file name extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	case ".raw", ".pcm":
		return FormatRaw, nil
	default:
		return "", fmt.Errorf("%w: %w: %q", core.ErrInvalidInput, ErrUnsupportedFormat, name)
	}
}

// DecodeFile reads and decodes the audio file at path.
func DecodeFile(path string) (Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: failed to read audio file %q: %w", core.ErrInvalidInput, path, err)
	}

	return Decode(path, data)
}

// Decode decodes data using the format implied by name.
func Decode(name string, data []byte) (Buffer, error) {
	format, err := FormatFromName(name)
	if err != nil {
		return Buffer{}, err
	}

	switch format {
	case FormatMP3:
		return decodeMP3(data)
	case FormatRaw:
		return DecodePCM16(data, RawSampleRate)
	default:
		return decodeWAV(data)
	}
}

// DecodePCM16 converts raw little-endian signed 16-bit mono PCM to a Buffer.
func DecodePCM16(data []byte, sampleRate int) (Buffer, error) {
	rateErr := validateSampleRate(sampleRate)
	if rateErr != nil {
		return Buffer{}, rateErr
	}

	if len(data)%2 != 0 {
		return Buffer{}, fmt.Errorf("%w: %w (%d bytes)", core.ErrInvalidInput, ErrOddPCMLength, len(data))
	}

	samples := make([]float64, len(data)/2)
	for i := range samples {
		samples[i] = float64(int16(binary.LittleEndian.Uint16(data[2*i:]))) / pcm16Scale
	}

	return Buffer{Samples: samples, SampleRate: sampleRate}, nil
}

// EncodePCM16 converts a Buffer to little-endian signed 16-bit PCM, clipping to range.
func EncodePCM16(buffer Buffer) []byte {
	out := make([]byte, 2*len(buffer.Samples))

	for i, s := range buffer.Samples {
		v := math.Round(s * pcm16Scale)
		v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}

	return out
}

func decodeMP3(data []byte) (Buffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Buffer{}, fmt.Errorf("%w: failed to create mp3 decoder: %w", core.ErrInvalidInput, err)
	}

	// go-mp3 always decodes to signed 16-bit little-endian stereo.
	pcm, err := io.ReadAll(decoder)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Buffer{}, fmt.Errorf("%w: failed to decode mp3: %w", core.ErrInvalidInput, err)
	}

	frameBytes := 2 * mp3Channels
	pcm = pcm[:len(pcm)-len(pcm)%frameBytes]

	interleaved := make([]float64, len(pcm)/2)
	for i := range interleaved {
		interleaved[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / pcm16Scale
	}

	buffer := Buffer{Samples: mixDown(interleaved, mp3Channels), SampleRate: decoder.SampleRate()}

	validateErr := buffer.Validate()
	if validateErr != nil {
		return Buffer{}, validateErr
	}

	return buffer, nil
}

type wavFormat struct {
	audioFormat   uint16
	channels      int
	sampleRate    int
	bitsPerSample int
}

func decodeWAV(data []byte) (Buffer, error) {
	if len(data) < wavHeaderSize || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Buffer{}, fmt.Errorf("%w: %w: missing RIFF/WAVE header", core.ErrInvalidInput, ErrMalformedWAV)
	}

	var (
		format  *wavFormat
		payload []byte
	)

	offset := wavHeaderSize
	for offset+chunkHeaderSize <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4:]))
		start := offset + chunkHeaderSize
		end := start + size

		if end > len(data) {
			// Streamed writers leave the data size unset; take what is present.
			if id != "data" {
				return Buffer{}, fmt.Errorf("%w: %w: chunk %q overruns file", core.ErrInvalidInput, ErrMalformedWAV, id)
			}

			end = len(data)
		}

		switch id {
		case "fmt ":
			parsed, err := parseFmtChunk(data[start:end])
			if err != nil {
				return Buffer{}, err
			}

			format = parsed
		case "data":
			payload = data[start:end]
		}

		offset = end + size%2
	}

	if format == nil {
		return Buffer{}, fmt.Errorf("%w: %w: no fmt chunk", core.ErrInvalidInput, ErrMalformedWAV)
	}

	if payload == nil {
		return Buffer{}, fmt.Errorf("%w: %w: no data chunk", core.ErrInvalidInput, ErrMalformedWAV)
	}

	interleaved, err := decodeWAVSamples(payload, format)
	if err != nil {
		return Buffer{}, err
	}

	return Buffer{Samples: mixDown(interleaved, format.channels), SampleRate: format.sampleRate}, nil
}

func parseFmtChunk(chunk []byte) (*wavFormat, error) {
	if len(chunk) < fmtChunkMinSize {
		return nil, fmt.Errorf("%w: %w: fmt chunk too short", core.ErrInvalidInput, ErrMalformedWAV)
	}

	format := &wavFormat{
		audioFormat:   binary.LittleEndian.Uint16(chunk[0:]),
		channels:      int(binary.LittleEndian.Uint16(chunk[2:])),
		sampleRate:    int(binary.LittleEndian.Uint32(chunk[4:])),
		bitsPerSample: int(binary.LittleEndian.Uint16(chunk[14:])),
	}

	// WAVE_FORMAT_EXTENSIBLE keeps the real format code in the sub-format GUID.
	if format.audioFormat == wavFormatExtensible && len(chunk) >= 26 {
		format.audioFormat = binary.LittleEndian.Uint16(chunk[24:])
	}

	channelsErr := validateChannels(format.channels)
	if channelsErr != nil {
		return nil, channelsErr
	}

	rateErr := validateSampleRate(format.sampleRate)
	if rateErr != nil {
		return nil, rateErr
	}

	return format, nil
}

func decodeWAVSamples(payload []byte, format *wavFormat) ([]float64, error) {
	width := format.bitsPerSample / 8
	if width == 0 {
		return nil, fmt.Errorf("%w: %w: %d bits per sample", core.ErrInvalidInput, ErrMalformedWAV, format.bitsPerSample)
	}

	count := len(payload) / width
	count -= count % format.channels
	out := make([]float64, count)

	switch {
	case format.audioFormat == wavFormatPCM && width == 1:
		for i := range out {
			out[i] = (float64(payload[i]) - 128) / 128
		}
	case format.audioFormat == wavFormatPCM && width == 2:
		for i := range out {
			out[i] = float64(int16(binary.LittleEndian.Uint16(payload[2*i:]))) / pcm16Scale
		}
	case format.audioFormat == wavFormatPCM && width == 3:
		for i := range out {
			b := payload[3*i:]
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			out[i] = float64(v) / (1 << 23)
		}
	case format.audioFormat == wavFormatPCM && width == 4:
		for i := range out {
			out[i] = float64(int32(binary.LittleEndian.Uint32(payload[4*i:]))) / (1 << 31)
		}
	case format.audioFormat == wavFormatFloat && width == 4:
		for i := range out {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(payload[4*i:])))
		}
	case format.audioFormat == wavFormatFloat && width == 8:
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(payload[8*i:]))
		}
	default:
		return nil, fmt.Errorf(
			"%w: %w: format %d with %d bits is not supported",
			core.ErrInvalidInput, ErrUnsupportedFormat, format.audioFormat, format.bitsPerSample,
		)
	}

	return out, nil
}

// EncodeWAV writes a mono 16-bit PCM WAV stream for the buffer.
func EncodeWAV(buffer Buffer) []byte {
	pcm := EncodePCM16(buffer)
	out := bytes.NewBuffer(make([]byte, 0, 44+len(pcm)))

	out.WriteString("RIFF")
	_ = binary.Write(out, binary.LittleEndian, uint32(36+len(pcm)))
	out.WriteString("WAVEfmt ")
	_ = binary.Write(out, binary.LittleEndian, uint32(fmtChunkMinSize))
	_ = binary.Write(out, binary.LittleEndian, uint16(wavFormatPCM))
	_ = binary.Write(out, binary.LittleEndian, uint16(1))
	_ = binary.Write(out, binary.LittleEndian, uint32(buffer.SampleRate))
	_ = binary.Write(out, binary.LittleEndian, uint32(buffer.SampleRate*2))
	_ = binary.Write(out, binary.LittleEndian, uint16(2))
	_ = binary.Write(out, binary.LittleEndian, uint16(16))
	out.WriteString("data")
	_ = binary.Write(out, binary.LittleEndian, uint32(len(pcm)))
	out.Write(pcm)

	return out.Bytes()
}
