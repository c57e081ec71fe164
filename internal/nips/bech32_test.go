package nips

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleID = "b9f5441e45ca39179320e0031cfb18e34078673dcc3d3e3a3b3a981760aa5696"

func TestParseEventID_Hex(t *testing.T) {
	id, err := ParseEventID(strings.ToUpper(sampleID))
	require.NoError(t, err)
	require.Equal(t, sampleID, id)
}

func TestParseEventID_Note(t *testing.T) {
	note, err := EncodeEventID(sampleID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(note, "note1"))

	id, err := ParseEventID(note)
	require.NoError(t, err)
	require.Equal(t, sampleID, id)
}

func TestParseEventID_BadChecksum(t *testing.T) {
	note, err := EncodeEventID(sampleID)
	require.NoError(t, err)

	// flip the last checksum character
	last := note[len(note)-1]
	repl := byte('q')
	if last == 'q' {
		repl = 'p'
	}
	_, err = ParseEventID(note[:len(note)-1] + string(repl))
	require.ErrorIs(t, err, ErrBadChecksum)
}

func TestParseEventID_WrongHRP(t *testing.T) {
	npub, err := EncodePubkey(sampleID)
	require.NoError(t, err)

	_, err = ParseEventID(npub)
	require.Error(t, err)
}

func TestParseEventID_Garbage(t *testing.T) {
	_, err := ParseEventID("not-an-id")
	require.Error(t, err)
}

func TestParsePubkey(t *testing.T) {
	npub, err := EncodePubkey(sampleID)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(npub, "npub1"))

	pk, err := ParsePubkey(npub)
	require.NoError(t, err)
	require.Equal(t, sampleID, pk)

	pk, err = ParsePubkey(strings.ToUpper(sampleID))
	require.NoError(t, err)
	require.Equal(t, sampleID, pk)

	note, err := EncodeEventID(sampleID)
	require.NoError(t, err)
	_, err = ParsePubkey(note)
	require.Error(t, err)

	_, err = ParsePubkey("abc")
	require.Error(t, err)
}
