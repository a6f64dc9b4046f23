// Package protocol implements the binary encoding of requests sent from the
// termsfx client to the daemon over its local socket.
//
// A request is a little-endian uint32 discriminant. Play is followed by a
// uint64 byte length and the UTF-8 command text; PrintConfig has no body.
// Replies, when there are any, are a uint64 length followed by the payload.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// MaxRequestSize bounds a single request. The daemon reads each connection
// once into a buffer of this size.
const MaxRequestSize = 1024

// MaxReplySize bounds a reply frame accepted by the client.
const MaxReplySize = 1 << 20

const (
	tagSize    = 4
	lengthSize = 8
)

// Kind discriminates the request variants.
type Kind uint32

const (
	KindPlay        Kind = 0
	KindPrintConfig Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindPlay:
		return "play"
	case KindPrintConfig:
		return "print_config"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

var (
	// ErrMalformed is returned for truncated, oversized or otherwise
	// unparsable payloads.
	ErrMalformed = errors.New("malformed request")
	// ErrUnknownAction is returned when the discriminant is not recognised.
	ErrUnknownAction = errors.New("unknown action")
)

// Action is a decoded client request.
type Action struct {
	Kind    Kind
	Command string // Set for KindPlay
}

// Play builds a Play request for the given command text.
func Play(command string) Action {
	return Action{Kind: KindPlay, Command: command}
}

// PrintConfig builds a PrintConfig request.
func PrintConfig() Action {
	return Action{Kind: KindPrintConfig}
}

func (a Action) String() string {
	if a.Kind == KindPlay {
		return fmt.Sprintf("play(%q)", a.Command)
	}
	return a.Kind.String()
}

// Encode serializes an action.
func Encode(a Action) ([]byte, error) {
	switch a.Kind {
	case KindPlay:
		if !utf8.ValidString(a.Command) {
			return nil, fmt.Errorf("%w: command is not valid UTF-8", ErrMalformed)
		}
		size := tagSize + lengthSize + len(a.Command)
		if size > MaxRequestSize {
			return nil, fmt.Errorf("%w: request of %d bytes exceeds %d", ErrMalformed, size, MaxRequestSize)
		}
		buf := make([]byte, size)
		binary.LittleEndian.PutUint32(buf, uint32(KindPlay))
		binary.LittleEndian.PutUint64(buf[tagSize:], uint64(len(a.Command)))
		copy(buf[tagSize+lengthSize:], a.Command)
		return buf, nil
	case KindPrintConfig:
		buf := make([]byte, tagSize)
		binary.LittleEndian.PutUint32(buf, uint32(KindPrintConfig))
		return buf, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, a.Kind)
	}
}

// Decode parses a complete request. Trailing bytes are rejected.
func Decode(data []byte) (Action, error) {
	if len(data) < tagSize {
		return Action{}, fmt.Errorf("%w: %d bytes is too short for a tag", ErrMalformed, len(data))
	}

	kind := Kind(binary.LittleEndian.Uint32(data))
	body := data[tagSize:]

	switch kind {
	case KindPlay:
		if len(body) < lengthSize {
			return Action{}, fmt.Errorf("%w: missing command length", ErrMalformed)
		}
		n := binary.LittleEndian.Uint64(body)
		body = body[lengthSize:]
		if n != uint64(len(body)) {
			return Action{}, fmt.Errorf("%w: command length %d does not match %d remaining bytes", ErrMalformed, n, len(body))
		}
		if !utf8.Valid(body) {
			return Action{}, fmt.Errorf("%w: command is not valid UTF-8", ErrMalformed)
		}
		return Play(string(body)), nil
	case KindPrintConfig:
		if len(body) != 0 {
			return Action{}, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(body))
		}
		return PrintConfig(), nil
	default:
		return Action{}, fmt.Errorf("%w: %s", ErrUnknownAction, kind)
	}
}

// WriteReply writes a length-prefixed reply frame.
func WriteReply(w io.Writer, payload []byte) error {
	var header [lengthSize]byte
	binary.LittleEndian.PutUint64(header[:], uint64(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("failed to write reply header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write reply body: %w", err)
	}
	return nil
}

// ReadReply reads a length-prefixed reply frame.
func ReadReply(r io.Reader) ([]byte, error) {
	var header [lengthSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, fmt.Errorf("failed to read reply header: %w", err)
	}
	n := binary.LittleEndian.Uint64(header[:])
	if n > MaxReplySize {
		return nil, fmt.Errorf("%w: reply of %d bytes exceeds %d", ErrMalformed, n, MaxReplySize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("failed to read reply body: %w", err)
	}
	return payload, nil
}
