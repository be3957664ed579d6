package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataJSON(t *testing.T) {
	var in TrackInput
	require.NoError(t, json.Unmarshal([]byte(`{"trackId":"x","metadata":{"track_number":3,"explicit":false,"tags":["a"]}}`), &in))
	assert.Equal(t, Metadata(`{"track_number":3,"explicit":false,"tags":["a"]}`), in.Metadata)

	fields, err := in.Metadata.Fields()
	require.NoError(t, err)
	assert.Equal(t, float64(3), fields["track_number"])
	assert.Equal(t, false, fields["explicit"])

	out, err := json.Marshal(DownloadedTrack{Metadata: Metadata(`{}`)})
	require.NoError(t, err)
	assert.Contains(t, string(out), `"metadata":{}`)

	out, err = json.Marshal(DownloadedTrack{})
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"metadata"`)
}

func TestMetadataRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{`[1]`, `"text"`, `3`} {
		var in TrackInput
		err := json.Unmarshal([]byte(`{"metadata":`+raw+`}`), &in)
		assert.Error(t, err, raw)
	}

	var in TrackInput
	require.NoError(t, json.Unmarshal([]byte(`{"metadata":null}`), &in))
	assert.Nil(t, in.Metadata)
}

func TestNewMetadata(t *testing.T) {
	bag, err := NewMetadata(map[string]any{"year": 1997})
	require.NoError(t, err)
	assert.Equal(t, Metadata(`{"year":1997}`), bag)

	bag, err = NewMetadata(nil)
	require.NoError(t, err)
	assert.Nil(t, bag)
}

func TestMetadataScan(t *testing.T) {
	var m Metadata
	require.NoError(t, m.Scan(""))
	assert.Nil(t, m)

	require.NoError(t, m.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, Metadata(`{"a":1}`), m)

	v, err := Metadata(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "", v)
}
