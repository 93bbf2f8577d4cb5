package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	for _, op := range ValidOperations {
		got, err := ParseOperation(string(op))
		require.NoError(t, err)
		assert.Equal(t, op, got)
	}

	_, err := ParseOperation("MERGE")
	assert.Error(t, err)
	_, err = ParseOperation("create")
	assert.Error(t, err, "operation kinds are case-sensitive")
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("INVESTIGATOR")
	require.NoError(t, err)
	assert.Equal(t, RoleInvestigator, r)
	assert.True(t, r.Oversight())
	assert.False(t, RolePatient.Oversight())

	_, err = ParseRole("ROOT")
	assert.Error(t, err)
}

func TestActorHasSite(t *testing.T) {
	a := ActorContext{ActorID: "inv-1", Role: RoleInvestigator, Sites: []string{"site-a"}}
	assert.True(t, a.HasSite("site-a"))
	assert.False(t, a.HasSite("site-b"))
	assert.False(t, a.HasSite(""))
}

func TestEventIsImmutable(t *testing.T) {
	parent := int64(1)
	d := EventData{
		EntityID:         "E1",
		SequenceID:       2,
		ParentSequenceID: &parent,
		Operation:        OpUpdate,
		Payload:          MustPayload(`{"severity":4}`),
		Supersedes:       []int64{7},
	}
	e := NewEvent(d)

	// Mutating the input after construction does not leak into the event.
	parent = 99
	d.Payload[2] = 'x'
	d.Supersedes[0] = 8

	p, ok := e.ParentSequenceID()
	require.True(t, ok)
	assert.Equal(t, int64(1), p)
	assert.Equal(t, `{"severity":4}`, e.Payload().String())
	assert.Equal(t, []int64{7}, e.Supersedes())

	// Mutating accessor results does not leak either.
	e.Supersedes()[0] = 9
	data := e.Data()
	*data.ParentSequenceID = 42
	assert.Equal(t, []int64{7}, e.Supersedes())
	p, _ = e.ParentSequenceID()
	assert.Equal(t, int64(1), p)
}

func TestEventRoot(t *testing.T) {
	root := NewEvent(EventData{EntityID: "E1", SequenceID: 1, Operation: OpCreate})
	assert.True(t, root.IsRoot())
	_, ok := root.ParentSequenceID()
	assert.False(t, ok)
}

func TestEventMarshalJSON(t *testing.T) {
	e := NewEvent(EventData{
		EntityID:         "E1",
		SequenceID:       2,
		ParentSequenceID: Seq(1),
		Operation:        OpUpdate,
		Payload:          MustPayload(`{"severity":4}`),
	})
	data, err := json.Marshal(e)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "E1", m["entity_id"])
	assert.Equal(t, float64(1), m["parent_sequence_id"])
	assert.Equal(t, map[string]any{"severity": float64(4)}, m["payload"])
}

func TestCurrentStateClone(t *testing.T) {
	s := CurrentState{EntityID: "E1", CurrentPayload: MustPayload(`{"a":1}`), Tips: []int64{3}}
	c := s.Clone()
	c.Tips[0] = 4
	c.CurrentPayload[2] = 'b'
	assert.Equal(t, []int64{3}, s.Tips)
	assert.Equal(t, `{"a":1}`, s.CurrentPayload.String())
	assert.True(t, s.HasTip(3))
}
