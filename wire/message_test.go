package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Message{
		ClientInitiation{MagicValue: Magic, Name: "alice"},
		ServerResponse{MagicValue: Magic, Name: "bob"},
		ValidatorPacket{Payload: []byte{1, 2, 3}},
		HandshakeCompleted{},
		Request{ID: 42, Data: []byte("payload")},
		Response{ID: 42, Data: []byte("reply")},
		NameTaken{},
		InvalidMagic{},
		UnexpectedPacket{},
		MalformedData{},
	}

	for _, want := range cases {
		data, err := Encode(want)
		require.NoError(t, err)

		got, err := Decode(data)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0xff, 0xff, 0xff})
	require.Error(t, err)
}

func TestActorIDString(t *testing.T) {
	require.Equal(t, "#7", Numeric(7).String())
	require.Equal(t, `"greeter"`, Named("greeter").String())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "Request", KindRequest.String())
	require.Equal(t, "Unknown", Kind(255).String())
}
