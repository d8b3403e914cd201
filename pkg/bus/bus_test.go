package bus

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/somabus/soma/pkg/schema"
)

func msg(text string) *schema.Observation {
	return schema.New(schema.ObsMessage, "text_input", schema.SourceExternal, &schema.MessagePayload{Text: text})
}

func TestPublishConsumeFIFO(t *testing.T) {
	b := New(10)
	for i := 0; i < 5; i++ {
		res := b.PublishNowait(msg(fmt.Sprintf("m%d", i)))
		require.True(t, res.OK)
	}
	b.Close()

	var got []string
	for obs := range b.Consume() {
		p, _ := obs.Message()
		got = append(got, p.Text)
	}
	assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, got)
}

func TestDropNewestOnFull(t *testing.T) {
	b := New(2)
	require.True(t, b.PublishNowait(msg("keep1")).OK)
	require.True(t, b.PublishNowait(msg("keep2")).OK)

	res := b.PublishNowait(msg("dropped"))
	assert.False(t, res.OK)
	assert.True(t, res.Dropped)
	assert.Equal(t, ReasonQueueFull, res.Reason)

	// Accounting: published + dropped = offered.
	assert.Equal(t, int64(2), b.PublishedTotal())
	assert.Equal(t, int64(1), b.DroppedTotal())
	assert.Equal(t, 2, b.Size())

	// Oldest items retained.
	b.Close()
	first := <-b.Consume()
	p, _ := first.Message()
	assert.Equal(t, "keep1", p.Text)
}

func TestPublishAfterClose(t *testing.T) {
	b := New(4)
	b.Close()
	res := b.PublishNowait(msg("late"))
	assert.True(t, res.Dropped)
	assert.Equal(t, ReasonClosed, res.Reason)

	// Accounting still holds: published + dropped = offered.
	assert.Equal(t, int64(0), b.PublishedTotal())
	assert.Equal(t, int64(1), b.DroppedTotal())
}

func TestCloseIdempotent(t *testing.T) {
	b := New(4)
	b.Close()
	assert.NotPanics(t, func() { b.Close() })
	assert.True(t, b.Closed())
}

func TestInvalidObservationRejected(t *testing.T) {
	b := New(4)
	bad := schema.New(schema.ObsMessage, "src", schema.SourceExternal, &schema.AlertPayload{AlertType: "x", Severity: schema.SeverityLow})
	res := b.PublishNowait(bad)
	assert.True(t, res.Dropped)
	assert.Equal(t, ReasonInvalid, res.Reason)
	assert.Equal(t, int64(0), b.PublishedTotal())
}

func TestDrainAfterClose(t *testing.T) {
	b := New(4)
	b.PublishNowait(msg("a"))
	b.PublishNowait(msg("b"))
	b.Close()

	count := 0
	for range b.Consume() {
		count++
	}
	assert.Equal(t, 2, count)
}
