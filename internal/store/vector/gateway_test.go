package vector

import (
	"testing"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterToQdrant(t *testing.T) {
	t.Run("empty filter is nil", func(t *testing.T) {
		assert.Nil(t, Filter{}.toQdrant())
	})

	t.Run("user and hash are must conditions", func(t *testing.T) {
		f := Filter{UserID: "u1", Hash: "abc"}.toQdrant()
		require.NotNil(t, f)
		assert.Len(t, f.Must, 2)
		assert.Empty(t, f.Should)
	})

	t.Run("agent filter includes shared memories", func(t *testing.T) {
		f := Filter{UserID: "u1", AgentID: "syn"}.toQdrant()
		require.NotNil(t, f)
		assert.Len(t, f.Must, 1)
		// agent match OR empty agent_id payload
		assert.Len(t, f.Should, 2)
	})
}

func TestPayloadToMap(t *testing.T) {
	payload := qdrant.NewValueMap(map[string]any{
		"text":       "drives a 4Runner",
		"confidence": 0.9,
		"count":      int64(3),
		"shared":     true,
		"tags":       []any{"vehicle", "fact"},
	})

	out := payloadToMap(payload)
	assert.Equal(t, "drives a 4Runner", out["text"])
	assert.Equal(t, 0.9, out["confidence"])
	assert.Equal(t, int64(3), out["count"])
	assert.Equal(t, true, out["shared"])
	assert.Equal(t, []any{"vehicle", "fact"}, out["tags"])
}

func TestPointID(t *testing.T) {
	assert.Equal(t, "", pointID(nil))
	assert.Equal(t, "a0b1", pointID(qdrant.NewID("a0b1")))
	assert.Equal(t, "42", pointID(qdrant.NewIDNum(42)))
}
