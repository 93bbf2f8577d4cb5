package record

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEventData() EventData {
	return EventData{
		EntityID:        "E1",
		SequenceID:      1,
		Operation:       OpCreate,
		Payload:         MustPayload(`{"severity":5}`),
		ActorID:         "patient-1",
		ActorRole:       RolePatient,
		OwnerID:         "patient-1",
		SiteID:          "site-a",
		ServerTimestamp: time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC),
		PreviousHash:    GenesisHash,
	}
}

func TestEventHashDeterminism(t *testing.T) {
	d := testEventData()

	h1, err := EventHash(d)
	require.NoError(t, err)
	h2, err := EventHash(d)
	require.NoError(t, err)

	assert.Equal(t, h1, h2, "EventHash must be deterministic")
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestEventHashCoversFields(t *testing.T) {
	base := testEventData()
	h0, err := EventHash(base)
	require.NoError(t, err)

	mutations := map[string]func(*EventData){
		"payload":       func(d *EventData) { d.Payload = MustPayload(`{"severity":6}`) },
		"sequence":      func(d *EventData) { d.SequenceID = 2 },
		"parent":        func(d *EventData) { d.ParentSequenceID = Seq(1) },
		"actor":         func(d *EventData) { d.ActorID = "someone-else" },
		"server time":   func(d *EventData) { d.ServerTimestamp = d.ServerTimestamp.Add(time.Nanosecond) },
		"previous hash": func(d *EventData) { d.PreviousHash = "abc" },
		"reason":        func(d *EventData) { d.ChangeReason = "typo" },
		"supersedes":    func(d *EventData) { d.Supersedes = []int64{3} },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			d := testEventData()
			mutate(&d)
			h, err := EventHash(d)
			require.NoError(t, err)
			assert.NotEqual(t, h0, h)
		})
	}
}

func TestEventHashIgnoresHashField(t *testing.T) {
	d := testEventData()
	h1, err := EventHash(d)
	require.NoError(t, err)

	d.Hash = h1
	h2, err := EventHash(d)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestNanosRoundTrip(t *testing.T) {
	ts := time.Date(2026, 10, 17, 9, 30, 0, 123456789, time.UTC)
	assert.True(t, ts.Equal(FromNanos(Nanos(ts))))

	assert.Equal(t, int64(0), Nanos(time.Time{}))
	assert.True(t, FromNanos(0).IsZero())
	assert.Equal(t, "", FormatTime(time.Time{}))
}
