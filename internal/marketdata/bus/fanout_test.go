package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"synthtrend/internal/model"
)

func recv(t *testing.T, ch <-chan model.TrendResult) model.TrendResult {
	t.Helper()
	select {
	case r, ok := <-ch:
		require.True(t, ok, "channel closed")
		return r
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for result")
	}
	return model.TrendResult{}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := New(10)
	_, out1 := fo.Subscribe()
	_, out2 := fo.Subscribe()

	input := make(chan model.TrendResult, 10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go fo.Run(ctx, input)

	input <- model.TrendResult{Pair: "sum", BarIndex: 7}

	assert.Equal(t, "sum", recv(t, out1).Pair)
	assert.Equal(t, 7, recv(t, out2).BarIndex)
}

func TestFanOut_DropsForSlowSubscriber(t *testing.T) {
	fo := New(1)
	slowID, _ := fo.Subscribe()
	_, fast := fo.Subscribe()

	var dropped []int
	fo.OnDrop = func(id int) { dropped = append(dropped, id) }

	fo.Publish(model.TrendResult{BarIndex: 1})
	recv(t, fast)
	fo.Publish(model.TrendResult{BarIndex: 2})

	assert.Equal(t, []int{slowID}, dropped)
	assert.Equal(t, 2, recv(t, fast).BarIndex)
}

func TestFanOut_Unsubscribe(t *testing.T) {
	fo := New(1)
	id, ch := fo.Subscribe()
	fo.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok)
	assert.Empty(t, fo.ChannelStats())
	fo.Unsubscribe(id)
}

func TestFanOut_RunClosesSubscribers(t *testing.T) {
	fo := New(1)
	_, ch := fo.Subscribe()

	input := make(chan model.TrendResult)
	close(input)
	fo.Run(context.Background(), input)

	_, ok := <-ch
	assert.False(t, ok)

	_, late := fo.Subscribe()
	_, ok = <-late
	assert.False(t, ok, "subscribers after Run are closed immediately")
}
