package msgbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxMessageSize bounds a full envelope on the wire. The ceiling covers
// the largest blobs peers exchange plus headroom.
const MaxMessageSize = 10 * 1024 * 1024

// maxParts bounds the part count of a single envelope.
const maxParts = 64

var errEnvelopeTooLarge = errors.New("envelope exceeds maximum size")

// writeEnvelope frames a named request: a length prefixed name followed
// by a part count and length prefixed parts.
func writeEnvelope(w io.Writer, name string, parts [][]byte) error {
	if len(name) > 0xFFFF {
		return errors.New("envelope name too long")
	}
	if len(parts) > maxParts {
		return errors.New("too many envelope parts")
	}

	total := 2 + len(name) + 2
	for _, part := range parts {
		total += 4 + len(part)
	}
	if total > MaxMessageSize {
		return errEnvelopeTooLarge
	}

	buf := make([]byte, 0, total)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(parts)))
	for _, part := range parts {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(part)))
		buf = append(buf, part...)
	}

	_, err := w.Write(buf)
	return err
}

// readEnvelope parses a framed request, enforcing the envelope budget.
func readEnvelope(r io.Reader) (string, [][]byte, error) {
	var remaining = MaxMessageSize

	name, err := readChunk(r, 2, &remaining)
	if err != nil {
		return "", nil, err
	}

	var countRaw [2]byte
	if _, err := io.ReadFull(r, countRaw[:]); err != nil {
		return "", nil, fmt.Errorf("reading part count: %w", err)
	}
	count := int(binary.BigEndian.Uint16(countRaw[:]))
	if count > maxParts {
		return "", nil, errors.New("too many envelope parts")
	}

	parts := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		part, err := readChunk(r, 4, &remaining)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, part)
	}

	return string(name), parts, nil
}

// writeParts frames a reply: length prefixed parts terminated by the
// stream's FIN.
func writeParts(w io.Writer, parts [][]byte) error {
	total := 0
	for _, part := range parts {
		total += 4 + len(part)
	}
	if total > MaxMessageSize {
		return errEnvelopeTooLarge
	}

	buf := make([]byte, 0, total)
	for _, part := range parts {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(part)))
		buf = append(buf, part...)
	}

	_, err := w.Write(buf)
	return err
}

// readParts consumes length prefixed parts until EOF.
func readParts(r io.Reader) ([][]byte, error) {
	var remaining = MaxMessageSize

	var parts [][]byte
	for {
		part, err := readChunk(r, 4, &remaining)
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return nil, err
		}
		parts = append(parts, part)
	}
}

// readChunk reads one length prefixed chunk, debiting the envelope
// budget. A clean EOF before the prefix surfaces as io.EOF.
func readChunk(r io.Reader, prefixLen int, remaining *int) ([]byte, error) {
	prefix := make([]byte, prefixLen)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading length prefix: %w", err)
	}

	var length int
	switch prefixLen {
	case 2:
		length = int(binary.BigEndian.Uint16(prefix))
	default:
		length = int(binary.BigEndian.Uint32(prefix))
	}

	*remaining -= prefixLen + length
	if *remaining < 0 {
		return nil, errEnvelopeTooLarge
	}

	chunk := make([]byte, length)
	if _, err := io.ReadFull(r, chunk); err != nil {
		return nil, fmt.Errorf("reading chunk: %w", err)
	}

	return chunk, nil
}
