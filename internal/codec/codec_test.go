package codec

import (
	"testing"

	"wacompose/pkg/whatsapp/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoredMessageRoundTrip(t *testing.T) {
	info := types.WebMessageInfo{
		Key:              types.MessageKey{RemoteJID: "1@s.whatsapp.net", FromMe: true, ID: "3EB0AAAA"},
		MessageTimestamp: 1700000000,
		Status:           types.StatusServerAck,
		Message: &types.Message{
			Type: types.ContentImage,
			Image: &types.ImageMessage{
				MediaInfo: types.MediaInfo{
					DownloadableMessage: types.DownloadableMessage{
						URL:        types.StringPtr("https://mmg.whatsapp.net/u"),
						DirectPath: types.StringPtr("/d"),
					},
					Mimetype:   "image/jpeg",
					FileSHA256: []byte{1, 2, 3},
				},
				Caption: types.StringPtr("pic"),
			},
			ViewOnce: types.BoolPtr(false),
		},
		UserReceipts: []types.UserReceipt{{UserJID: "2@s.whatsapp.net", ReadTimestamp: types.Int64Ptr(5)}},
	}

	data, err := Marshal(info)
	require.NoError(t, err)

	var decoded types.WebMessageInfo
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, info, decoded)
}

func TestPresenceIsPreserved(t *testing.T) {
	withFalse := types.Message{Type: types.ContentText, Text: &types.TextMessage{Text: "x"}, ViewOnce: types.BoolPtr(false)}
	absent := types.Message{Type: types.ContentText, Text: &types.TextMessage{Text: "x"}}

	a, err := Marshal(withFalse)
	require.NoError(t, err)
	b, err := Marshal(absent)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	var decoded types.Message
	require.NoError(t, Unmarshal(a, &decoded))
	require.NotNil(t, decoded.ViewOnce)
	assert.False(t, *decoded.ViewOnce)

	decoded = types.Message{}
	require.NoError(t, Unmarshal(b, &decoded))
	assert.Nil(t, decoded.ViewOnce)
}

func TestDeterministic(t *testing.T) {
	key := types.MessageKey{RemoteJID: "1@s.whatsapp.net", ID: "A", Participant: types.StringPtr("p")}
	first, err := Marshal(key)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Marshal(key)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestPendingSourceIsNotEncoded(t *testing.T) {
	msg := types.Message{
		Type:  types.ContentAudio,
		Audio: &types.AudioMessage{MediaInfo: types.MediaInfo{Mimetype: "audio/ogg", Source: types.MediaFromBytes([]byte("raw"))}},
	}
	data, err := Marshal(msg)
	require.NoError(t, err)

	diag, err := Diagnose(data)
	require.NoError(t, err)
	assert.NotContains(t, diag, "raw")
}
