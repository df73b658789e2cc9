package window_test

import (
	"math/rand/v2"
	"testing"
	"time"
	"udpprobe/pkg/clock"
	"udpprobe/pkg/store"
	"udpprobe/pkg/window"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const start = clock.Timestamp(5 * time.Second)

func at(d time.Duration) clock.Timestamp {
	return start.Add(d)
}

type fixture struct {
	sends *store.Store
	recvs *store.Store
	a     *window.Analyzer
}

func newFixture(limit int64) *fixture {
	f := &fixture{
		sends: store.New(),
		recvs: store.New(),
	}
	f.a = window.New(window.Config{Start: start, Grace: window.DefaultGrace, Limit: limit}, f.sends, f.recvs)
	return f
}

func (f *fixture) ping(seq int32, sent, latency time.Duration) {
	f.sends.Put(seq, at(sent))
	if latency >= 0 {
		f.recvs.Put(seq, at(sent+latency))
	}
}

func sum(results []window.Result) window.Totals {
	var t window.Totals
	for _, r := range results {
		t.Sent += r.Sent
		t.Lost += r.Lost
		t.Reorders += r.Reorders
	}
	return t
}

func TestZeroLoss(t *testing.T) {
	const (
		rate    = 100
		seconds = 5
	)
	f := newFixture(0)
	for i := range rate * seconds {
		f.ping(int32(i), time.Duration(i)*time.Second/rate, 3*time.Millisecond)
	}

	results := f.a.Step(at((seconds + 3) * time.Second))
	require.Len(t, results, seconds+1)
	for i, r := range results[:seconds] {
		assert.Equal(t, int64(i), r.Index)
		assert.Equal(t, rate, r.Sent)
		assert.Zero(t, r.Lost)
		assert.Zero(t, r.Reorders)
		assert.Equal(t, 3*time.Millisecond, r.Latency.Mean)
	}
	assert.Zero(t, results[seconds].Sent)

	assert.Equal(t, window.Totals{Sent: rate * seconds}, sum(results))
	assert.Equal(t, sum(results), f.a.Totals())
}

func TestLostAfterGrace(t *testing.T) {
	f := newFixture(0)
	for i := range int32(10) {
		latency := 20 * time.Millisecond
		if i == 4 {
			latency = -1
		}
		f.ping(i, time.Duration(i)*100*time.Millisecond, latency)
	}

	assert.Nil(t, f.a.Step(at(2900*time.Millisecond)), "window 0 is still within its grace period")

	results := f.a.Step(at(3 * time.Second))
	require.Len(t, results, 1)
	assert.Equal(t, 10, results[0].Sent)
	assert.Equal(t, 1, results[0].Lost)
	assert.Equal(t, 9, results[0].Latency.Samples)
	assert.Equal(t, at(time.Second), results[0].End)

	assert.Nil(t, f.a.Step(at(3500*time.Millisecond)))

	// the missing reply shows up after its window was finalized
	f.recvs.Put(4, at(3500*time.Millisecond))
	results = f.a.Step(at(5 * time.Second))
	require.Len(t, results, 2)
	assert.Equal(t, window.Totals{}, sum(results))
	assert.Equal(t, window.Totals{Sent: 10, Lost: 1}, f.a.Totals())
}

func TestLatencyStats(t *testing.T) {
	f := newFixture(0)
	f.ping(0, 100*time.Millisecond, 5*time.Millisecond)
	f.ping(1, 200*time.Millisecond, 10*time.Millisecond)
	f.ping(2, 300*time.Millisecond, 15*time.Millisecond)

	results := f.a.Step(at(3 * time.Second))
	require.Len(t, results, 1)
	l := results[0].Latency
	assert.Equal(t, 3, l.Samples)
	assert.Equal(t, 10*time.Millisecond, l.Mean)
	assert.Equal(t, 5*time.Millisecond, l.Min)
	assert.Equal(t, 15*time.Millisecond, l.Max)
	assert.InDelta(t, 4.08, float64(l.StdDev)/float64(time.Millisecond), 0.005)
}

func TestSingleSample(t *testing.T) {
	f := newFixture(0)
	f.ping(0, 0, 7*time.Millisecond)
	f.ping(1, 500*time.Millisecond, -1)

	results := f.a.Step(at(3 * time.Second))
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Sent)
	assert.Equal(t, 1, results[0].Lost)
	assert.Equal(t, 1, results[0].Latency.Samples)
	assert.Equal(t, 7*time.Millisecond, results[0].Latency.Mean)
	assert.Zero(t, results[0].Latency.StdDev)
}

func TestEmptyWindow(t *testing.T) {
	f := newFixture(0)
	results := f.a.Step(at(3 * time.Second))
	require.Len(t, results, 1)
	assert.Zero(t, results[0].Sent)
	assert.Zero(t, results[0].Latency.Samples)
}

// The reorder count is a heuristic: each matched id is compared with the matched id sent
// right before it, using the global arrival order.
func TestReorderHeuristic(t *testing.T) {
	t.Run("in order", func(t *testing.T) {
		f := newFixture(0)
		for i := range int32(5) {
			f.ping(i, time.Duration(i)*10*time.Millisecond, time.Millisecond)
		}
		results := f.a.Step(at(3 * time.Second))
		require.Len(t, results, 1)
		assert.Zero(t, results[0].Reorders)
	})

	t.Run("one adjacent swap", func(t *testing.T) {
		f := newFixture(0)
		for i := range int32(5) {
			f.sends.Put(i, at(time.Duration(i)*10*time.Millisecond))
		}
		for _, i := range []int32{0, 2, 1, 3, 4} {
			f.recvs.Put(i, at(100*time.Millisecond+time.Duration(i)*time.Millisecond))
		}
		results := f.a.Step(at(3 * time.Second))
		require.Len(t, results, 1)
		assert.Equal(t, 1, results[0].Reorders)
	})

	t.Run("lost packets are skipped", func(t *testing.T) {
		f := newFixture(0)
		f.ping(0, 0, 50*time.Millisecond)
		f.ping(1, 10*time.Millisecond, -1)
		f.ping(2, 20*time.Millisecond, 5*time.Millisecond)
		results := f.a.Step(at(3 * time.Second))
		require.Len(t, results, 1)
		// arrival order is insertion order: 0 then 2
		assert.Zero(t, results[0].Reorders)
	})

	t.Run("arrival order is global", func(t *testing.T) {
		f := newFixture(0)
		f.sends.Put(0, at(1100*time.Millisecond))
		f.sends.Put(1, at(1200*time.Millisecond))
		f.recvs.Put(1, at(1210*time.Millisecond))

		// finalizing window 0 drains the reply to 1 first
		require.Len(t, f.a.Step(at(3*time.Second)), 1)

		f.recvs.Put(0, at(3100*time.Millisecond))
		results := f.a.Step(at(4 * time.Second))
		require.Len(t, results, 1)
		assert.Equal(t, 2, results[0].Sent)
		assert.Zero(t, results[0].Lost)
		assert.Equal(t, 1, results[0].Reorders)
	})
}

func TestEveryIDCountedOnce(t *testing.T) {
	const n = 2000
	r := rand.New(rand.NewPCG(1, 2))

	f := newFixture(0)
	perWindow := map[int64]int{}
	lost := 0
	for i := range int32(n) {
		sent := time.Duration(r.Int64N(int64(10 * time.Second)))
		perWindow[int64(sent/time.Second)]++
		latency := time.Duration(r.Int64N(int64(500 * time.Millisecond)))
		if r.IntN(10) == 0 {
			latency = -1
			lost++
		}
		f.ping(i, sent, latency)
	}

	var results []window.Result
	for now := time.Duration(0); now <= 15*time.Second; now += 100 * time.Millisecond {
		results = append(results, f.a.Step(at(now))...)
	}

	require.Len(t, results, 13)
	for _, res := range results {
		assert.Equal(t, perWindow[res.Index], res.Sent, "window %d", res.Index)
		assert.Equal(t, res.Sent-res.Latency.Samples, res.Lost)
	}
	assert.Equal(t, window.Totals{Sent: n, Lost: lost, Reorders: sum(results).Reorders}, f.a.Totals())

	sent, received := f.a.Pending()
	assert.Zero(t, sent)
	assert.Zero(t, received)
}

func TestEviction(t *testing.T) {
	f := newFixture(0)
	f.ping(0, 500*time.Millisecond, 10*time.Millisecond)
	f.ping(1, 1500*time.Millisecond, 10*time.Millisecond)
	f.ping(2, 2500*time.Millisecond, 10*time.Millisecond)

	require.Len(t, f.a.Step(at(3*time.Second)), 1)
	sent, received := f.a.Pending()
	assert.Equal(t, 2, sent)
	assert.Equal(t, 2, received)

	require.Len(t, f.a.Step(at(4*time.Second)), 1)
	sent, received = f.a.Pending()
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, received)
}

func TestLimit(t *testing.T) {
	f := newFixture(2)
	assert.False(t, f.a.Done())

	results := f.a.Step(at(10 * time.Second))
	require.Len(t, results, 2)
	assert.True(t, f.a.Done())
	assert.Equal(t, int64(2), f.a.Analyzed())
	assert.Nil(t, f.a.Step(at(20*time.Second)))
}

func TestComplete(t *testing.T) {
	f := newFixture(0)
	assert.Equal(t, int64(-2), f.a.Complete(start))
	assert.Equal(t, int64(0), f.a.Complete(at(2999*time.Millisecond)))
	assert.Equal(t, int64(1), f.a.Complete(at(3*time.Second)))
}
