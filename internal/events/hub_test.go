package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tasklog/internal/audit"
)

func TestSinceWrapsRing(t *testing.T) {
	h := NewHub(3)
	for i := 0; i < 5; i++ {
		h.Publish("tick", map[string]int{"i": i})
	}

	all := h.Since(0)
	require.Len(t, all, 3)
	assert.Equal(t, int64(3), all[0].ID)
	assert.Equal(t, int64(5), all[2].ID)

	tail := h.Since(4)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(5), tail[0].ID)
}

func TestSubscribeReceivesAndCancelCloses(t *testing.T) {
	h := NewHub(8)
	ch, cancel := h.Subscribe()

	h.Publish("x", nil)
	select {
	case ev := <-ch:
		assert.Equal(t, "x", ev.Type)
		assert.JSONEq(t, `{}`, string(ev.Data))
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}

	cancel()
	_, open := <-ch
	assert.False(t, open)
	cancel() // idempotent
}

func TestRecordPublishesLogServed(t *testing.T) {
	h := NewHub(0)
	require.NoError(t, h.Record(context.Background(), audit.Entry{
		Type:   "ROLL_VIEW_LOG_REQUEST",
		Opaque: 7,
		Paths:  []string{"/x.log"},
		OK:     true,
	}))

	evs := h.Since(0)
	require.Len(t, evs, 1)
	assert.Equal(t, TypeLogServed, evs[0].Type)

	var e audit.Entry
	require.NoError(t, json.Unmarshal(evs[0].Data, &e))
	assert.Equal(t, uint64(7), e.Opaque)
	assert.Equal(t, []string{"/x.log"}, e.Paths)
}
