package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalID_UnmarshalJSON(t *testing.T) {
	var item NamedItem
	require.NoError(t, json.Unmarshal([]byte(`{"id":12345678901,"name":"A"}`), &item))
	assert.Equal(t, ExternalID("12345678901"), item.ID)

	require.NoError(t, json.Unmarshal([]byte(`{"id":"abc","name":"A"}`), &item))
	assert.Equal(t, "abc", item.ID.String())

	require.NoError(t, json.Unmarshal([]byte(`{"id":null,"name":"A"}`), &item))
	assert.Equal(t, ExternalID(""), item.ID)

	assert.Error(t, json.Unmarshal([]byte(`{"id":{"x":1}}`), &item))
}

func TestManifestationsPayload_OptionalGroup(t *testing.T) {
	var p ManifestationsPayload
	require.NoError(t, json.Unmarshal([]byte(`{"cateId":7,"manis":[{"id":1,"name":"Serie A"}]}`), &p))
	assert.Equal(t, ExternalID(""), p.GroupID)
	assert.Equal(t, ExternalID("7"), p.CateID)
	require.Len(t, p.Manis, 1)
}
