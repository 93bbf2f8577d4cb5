package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalPayloadSortsKeys(t *testing.T) {
	p, err := CanonicalPayload([]byte(`{ "severity": 5, "notes": "itchy", "area": {"z": 1, "a": 2} }`))
	require.NoError(t, err)

	assert.Equal(t, `{"area":{"a":2,"z":1},"notes":"itchy","severity":5}`, p.String())
}

func TestCanonicalPayloadEquivalentInputs(t *testing.T) {
	a, err := CanonicalPayload([]byte(`{"b":1,"a":true}`))
	require.NoError(t, err)
	b, err := CanonicalPayload([]byte("{\n  \"a\": true,\n  \"b\": 1\n}"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestCanonicalPayloadEmpty(t *testing.T) {
	p, err := CanonicalPayload(nil)
	require.NoError(t, err)
	assert.True(t, p.Empty())
	assert.Equal(t, "{}", p.String())
}

func TestCanonicalPayloadRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `"text"`, `42`, `{"a":`} {
		_, err := CanonicalPayload([]byte(raw))
		assert.Error(t, err, "input %s", raw)
	}
}

func TestPayloadMissing(t *testing.T) {
	p := MustPayload(`{"severity":5,"notes":null}`)

	missing, err := p.Missing([]string{"severity", "notes", "area"})
	require.NoError(t, err)
	assert.Equal(t, []string{"notes", "area"}, missing)

	missing, err = p.Missing(nil)
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestPayloadJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		Payload Payload `json:"payload"`
	}
	data, err := json.Marshal(wrapper{Payload: MustPayload(`{"b":2,"a":1}`)})
	require.NoError(t, err)
	assert.Equal(t, `{"payload":{"a":1,"b":2}}`, string(data))

	var back wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"payload":{ "b" : 2, "a" : 1 }}`), &back))
	assert.Equal(t, `{"a":1,"b":2}`, back.Payload.String())
}

func TestPayloadCloneIsIndependent(t *testing.T) {
	p := MustPayload(`{"a":1}`)
	c := p.Clone()
	c[2] = 'x'
	assert.Equal(t, `{"a":1}`, p.String())
}

func TestNormalizeText(t *testing.T) {
	// "é" as e + combining acute accent becomes the precomposed form.
	assert.Equal(t, "caf\u00e9", NormalizeText("cafe\u0301"))
	assert.Equal(t, "plain", NormalizeText("plain"))
}
