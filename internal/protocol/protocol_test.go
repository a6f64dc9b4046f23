package protocol

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_PlayLayout(t *testing.T) {
	data, err := Encode(Play("ls"))
	require.NoError(t, err)

	want := []byte{
		0, 0, 0, 0, // Play
		2, 0, 0, 0, 0, 0, 0, 0, // length
		'l', 's',
	}
	assert.Equal(t, want, data)
}

func TestEncode_PrintConfigLayout(t *testing.T) {
	data, err := Encode(PrintConfig())
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 0, 0}, data)
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		action Action
	}{
		{"play", Play("git push origin main")},
		{"play empty", Play("")},
		{"play unicode", Play("echo héllo 🎵")},
		{"print config", PrintConfig()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.action)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.action, got)
		})
	}
}

func TestEncode_RejectsOversizedCommand(t *testing.T) {
	_, err := Encode(Play(strings.Repeat("x", MaxRequestSize)))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncode_RejectsUnknownKind(t *testing.T) {
	_, err := Encode(Action{Kind: Kind(7)})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestDecode_Errors(t *testing.T) {
	play := func(declared uint64, body string) []byte {
		buf := make([]byte, 12+len(body))
		binary.LittleEndian.PutUint32(buf, 0)
		binary.LittleEndian.PutUint64(buf[4:], declared)
		copy(buf[12:], body)
		return buf
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrMalformed},
		{"short tag", []byte{0, 0}, ErrMalformed},
		{"missing length", []byte{0, 0, 0, 0, 3}, ErrMalformed},
		{"truncated body", play(10, "ls"), ErrMalformed},
		{"trailing bytes", play(1, "ls"), ErrMalformed},
		{"huge length", play(1<<62, "ls"), ErrMalformed},
		{"invalid utf8", play(2, "\xff\xfe"), ErrMalformed},
		{"print config trailing", []byte{1, 0, 0, 0, 9}, ErrMalformed},
		{"unknown tag", []byte{9, 0, 0, 0}, ErrUnknownAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReply_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, []byte(`{"commands":[]}`)))

	payload, err := ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, `{"commands":[]}`, string(payload))
}

func TestReadReply_Truncated(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, []byte("hello")))
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-2])

	_, err := ReadReply(truncated)
	assert.Error(t, err)
}

func TestReadReply_TooLarge(t *testing.T) {
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, MaxReplySize+1)

	_, err := ReadReply(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestAction_String(t *testing.T) {
	assert.Equal(t, `play("ls")`, Play("ls").String())
	assert.Equal(t, "print_config", PrintConfig().String())
	assert.Equal(t, "unknown(5)", Kind(5).String())
}
