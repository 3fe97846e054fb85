package synth

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/book-expert/align-service/internal/audio"
)

// Worker protocol.
//
// The parent writes one request line per fragment followed by a batch terminator:
//
//	R\t<language>\t<voice>\t<Go-quoted text>\n
//	E\n
//
// The worker answers every request, in order, with one little-endian block:
//
//	uint32 sample rate | uint32 byte length | byte length bytes of s16le PCM
const (
	requestTag      = "R"
	terminatorTag   = "E"
	fieldSeparator  = "\t"
	blockHeaderSize = 8
	// MaxBlockBytes bounds a single response block.
	MaxBlockBytes = 256 << 20
)

// writeRequest encodes req as a request line.
func writeRequest(w io.Writer, req Request) error {
	if strings.ContainsAny(req.Language+req.Voice, "\t\r\n") {
		return fmt.Errorf("%w: language and voice cannot contain tabs or newlines", ErrProtocol)
	}

	_, err := io.WriteString(w, strings.Join(
		[]string{requestTag, req.Language, req.Voice, strconv.Quote(req.Text)}, fieldSeparator,
	)+"\n")

	return err
}

func writeTerminator(w io.Writer) error {
	_, err := io.WriteString(w, terminatorTag+"\n")

	return err
}

// readRecord reads the next request line. It returns done=true at a batch
// terminator and io.EOF when the input is exhausted.
func readRecord(r *bufio.Reader) (Request, bool, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line == "" {
			return Request{}, false, io.EOF
		}

		if err != io.EOF {
			return Request{}, false, err
		}
	}

	line = strings.TrimSuffix(line, "\n")
	if line == terminatorTag {
		return Request{}, true, nil
	}

	fields := strings.SplitN(line, fieldSeparator, 4)
	if len(fields) != 4 || fields[0] != requestTag {
		return Request{}, false, fmt.Errorf("%w: malformed request line %q", ErrProtocol, line)
	}

	text, err := strconv.Unquote(fields[3])
	if err != nil {
		return Request{}, false, fmt.Errorf("%w: malformed request text %q: %w", ErrProtocol, fields[3], err)
	}

	return Request{Language: fields[1], Voice: fields[2], Text: text}, false, nil
}

// writeBlock encodes buffer as a response block.
func writeBlock(w io.Writer, buffer audio.Buffer) error {
	pcm := audio.EncodePCM16(buffer)
	if len(pcm) > MaxBlockBytes {
		return fmt.Errorf("%w: block of %d bytes exceeds %d", ErrProtocol, len(pcm), MaxBlockBytes)
	}

	rate := buffer.SampleRate
	if rate <= 0 {
		rate = EmptySampleRate
	}

	header := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], uint32(rate))
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(pcm)))

	_, err := w.Write(header)
	if err != nil {
		return err
	}

	_, err = w.Write(pcm)

	return err
}

// readBlock decodes the next response block. A stream that ends before any header
// byte returns io.EOF; a truncated block returns io.ErrUnexpectedEOF.
func readBlock(r io.Reader) (audio.Buffer, error) {
	header := make([]byte, blockHeaderSize)

	_, err := io.ReadFull(r, header)
	if err != nil {
		return audio.Buffer{}, err
	}

	rate := binary.LittleEndian.Uint32(header[0:4])
	length := binary.LittleEndian.Uint32(header[4:8])

	switch {
	case length > MaxBlockBytes:
		return audio.Buffer{}, fmt.Errorf("%w: block length %d exceeds %d", ErrProtocol, length, MaxBlockBytes)
	case length%2 != 0:
		return audio.Buffer{}, fmt.Errorf("%w: odd block length %d", ErrProtocol, length)
	case rate == 0 && length > 0:
		return audio.Buffer{}, fmt.Errorf("%w: zero sample rate with %d bytes", ErrProtocol, length)
	}

	if length == 0 {
		return emptyBuffer(), nil
	}

	pcm := make([]byte, length)

	_, err = io.ReadFull(r, pcm)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}

		return audio.Buffer{}, err
	}

	buffer, err := audio.DecodePCM16(pcm, int(rate))
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("%w: %w", ErrProtocol, err)
	}

	return buffer, nil
}
