package entity

import (
	"encoding/json"
	"testing"

	"github.com/contentmesh/server/pkg/canon"
	"github.com/contentmesh/server/pkg/contenthash"
	"github.com/stretchr/testify/require"
)

func buildCanonicalBytes(t *testing.T, e *Entity) []byte {
	t.Helper()
	b, err := canon.Bytes(struct {
		Type      Type              `json:"type"`
		Pointers  []string          `json:"pointers"`
		Timestamp int64             `json:"timestamp"`
		Content   map[string]string `json:"content"`
		Metadata  json.RawMessage   `json:"metadata,omitempty"`
	}{e.Type, e.Pointers, e.Timestamp, e.Content, e.Metadata})
	require.NoError(t, err)
	return b
}

func TestParseRoundTrip(t *testing.T) {
	e := &Entity{
		Type:      "scene",
		Pointers:  []string{"0,0", "0,1"},
		Timestamp: 1000,
		Content:   map[string]string{"a.png": "bSOMEHASH"},
	}
	raw := buildCanonicalBytes(t, e)

	parsed, err := Parse(raw)
	require.NoError(t, err)

	canonicalHash, err := parsed.CanonicalHash()
	require.NoError(t, err)

	require.Equal(t, contenthash.Hash(raw), canonicalHash,
		"hash(canonical(parse(bytes))) must equal hash(bytes) for a valid entity file")
	require.Equal(t, parsed.ID, canonicalHash)
}

func TestParseRejectsEmptyPointers(t *testing.T) {
	raw := []byte(`{"type":"scene","pointers":[],"timestamp":1,"content":{}}`)
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrEmptyPointers)
}

func TestParseRejectsEmptyType(t *testing.T) {
	raw := []byte(`{"type":"","pointers":["0,0"],"timestamp":1,"content":{}}`)
	_, err := Parse(raw)
	require.ErrorIs(t, err, ErrEmptyType)
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	_, err := Parse([]byte("not json"))
	require.Error(t, err)
}

func TestContentHashesExcludesOwnID(t *testing.T) {
	e := &Entity{
		Type:      "scene",
		Pointers:  []string{"0,0"},
		Timestamp: 1,
		Content:   map[string]string{"entity.json": "bSELF", "a.png": "bA"},
	}
	e.ID = "bSELF"
	hashes := e.ContentHashes()
	require.Equal(t, []string{"bA"}, hashes)
}

func TestHasPointer(t *testing.T) {
	e := &Entity{Pointers: []string{"0,0", "0,1"}}
	require.True(t, e.HasPointer("0,0"))
	require.False(t, e.HasPointer("0,2"))
}
