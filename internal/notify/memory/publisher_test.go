package memory

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type report struct {
	RunID    string `json:"run_id"`
	Entities int    `json:"entities"`
}

func TestPublishLogsAndRetainsReports(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	pub := New(0, zap.New(core))

	id, err := pub.Publish(context.Background(), "sync-runs", report{RunID: "r1", Entities: 2})
	require.NoError(t, err)
	assert.Equal(t, "log-1", id)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sync-runs", msgs[0].Topic)
	assert.JSONEq(t, `{"run_id":"r1","entities":2}`, string(msgs[0].Data))

	var got report
	require.NoError(t, pub.Decode(0, &got))
	assert.Equal(t, report{RunID: "r1", Entities: 2}, got)
	assert.Error(t, pub.Decode(1, &got))

	entries := logs.FilterMessage("run report").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "log-1", entries[0].ContextMap()["message_id"])
}

func TestPublishKeepsOnlyMostRecent(t *testing.T) {
	t.Parallel()

	pub := New(2, nil)
	for i := 0; i < 5; i++ {
		_, err := pub.Publish(context.Background(), "sync-runs", report{Entities: i})
		require.NoError(t, err)
	}

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "log-4", msgs[0].ID)
	assert.Equal(t, "log-5", msgs[1].ID)

	msgs[0].Topic = "modified"
	assert.Equal(t, "sync-runs", pub.Messages()[0].Topic, "Messages returns a copy")
}

func TestPublishRejectsUnencodablePayload(t *testing.T) {
	t.Parallel()

	pub := New(1, nil)
	_, err := pub.Publish(context.Background(), "sync-runs", math.Inf(1))
	require.Error(t, err)
	assert.Empty(t, pub.Messages())
}
