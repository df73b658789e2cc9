// Package window reconciles send and receive records into one-second statistics windows.
//
// A window k covers [start + k*Width, start + (k+1)*Width) on the monotonic timeline. It is
// finalized only once Grace further windows have elapsed, which is how long a reply may
// take before its packet is counted as lost. Records consumed by a finalized window are
// evicted, so memory stays bounded by roughly Grace windows worth of traffic.
package window

import (
	"cmp"
	"slices"
	"time"
	"udpprobe/pkg/clock"
	"udpprobe/pkg/stats"
	"udpprobe/pkg/store"
)

const (
	Width        = time.Second
	DefaultGrace = 2
)

type Source interface {
	Drain(dst []store.Record) []store.Record
}

type Config struct {
	Start clock.Timestamp
	Grace int64
	Limit int64 // number of windows to analyze, 0 for no limit
}

type Latency struct {
	Samples int
	Mean    time.Duration
	Min     time.Duration
	Max     time.Duration
	StdDev  time.Duration
}

type Result struct {
	Index    int64
	End      clock.Timestamp
	Sent     int
	Lost     int
	Reorders int
	Latency  Latency
}

type Totals struct {
	Sent     int
	Lost     int
	Reorders int
}

type arrival struct {
	ts  clock.Timestamp
	pos int64
}

type match struct {
	seq    int32
	sentTs clock.Timestamp
	pos    int64
}

type Analyzer struct {
	conf     Config
	sends    Source
	recvs    Source
	sent     map[int32]clock.Timestamp
	received map[int32]arrival
	arrivals int64 // global arrival position of the next receive record
	next     int64 // first window not analyzed yet
	buf      []store.Record
	selected []match
	matched  []match
	latency  *stats.Stats[time.Duration]
	totals   Totals
}

func New(conf Config, sends, recvs Source) *Analyzer {
	return &Analyzer{
		conf:     conf,
		sends:    sends,
		recvs:    recvs,
		sent:     make(map[int32]clock.Timestamp),
		received: make(map[int32]arrival),
		latency:  stats.New[time.Duration](),
	}
}

// Complete is the index of the last window that may be finalized at time now, exclusive.
func (a *Analyzer) Complete(now clock.Timestamp) int64 {
	return int64(now.Sub(a.conf.Start)/Width) - a.conf.Grace
}

// Done reports whether the configured number of windows has been analyzed.
func (a *Analyzer) Done() bool {
	return a.conf.Limit > 0 && a.next >= a.conf.Limit
}

func (a *Analyzer) Analyzed() int64 {
	return a.next
}

func (a *Analyzer) Totals() Totals {
	return a.totals
}

// Pending is the number of records currently held in the analyzer snapshots.
func (a *Analyzer) Pending() (sent, received int) {
	return len(a.sent), len(a.received)
}

// Step finalizes every window that became complete by now, oldest first.
func (a *Analyzer) Step(now clock.Timestamp) []Result {
	complete := a.Complete(now)
	if complete <= a.next || a.Done() {
		return nil
	}

	a.drain()

	var results []Result
	for a.next < complete && !a.Done() {
		results = append(results, a.analyze(a.next))
		a.next++
	}
	return results
}

func (a *Analyzer) drain() {
	a.buf = a.sends.Drain(a.buf[:0])
	for _, r := range a.buf {
		if _, found := a.sent[r.Seq]; !found {
			a.sent[r.Seq] = r.Ts
		}
	}

	a.buf = a.recvs.Drain(a.buf[:0])
	for _, r := range a.buf {
		if _, found := a.received[r.Seq]; !found {
			a.received[r.Seq] = arrival{ts: r.Ts, pos: a.arrivals}
			a.arrivals++
		}
	}
}

func (a *Analyzer) analyze(index int64) Result {
	start := a.conf.Start.Add(time.Duration(index) * Width)
	end := start.Add(Width)

	a.selected = a.selected[:0]
	for seq, ts := range a.sent {
		if ts >= start && ts < end {
			a.selected = append(a.selected, match{seq: seq, sentTs: ts})
		}
	}
	slices.SortFunc(a.selected, func(x, y match) int {
		return cmp.Or(cmp.Compare(x.sentTs, y.sentTs), cmp.Compare(x.seq, y.seq))
	})

	a.latency.Reset()
	a.matched = a.matched[:0]
	for _, m := range a.selected {
		r, found := a.received[m.seq]
		if !found {
			continue
		}
		m.pos = r.pos
		a.matched = append(a.matched, m)
		a.latency.SampleIn(r.ts.Sub(m.sentTs))
	}

	// Adjacent pairs in send order, compared by global arrival position. This undercounts
	// long-range reordering; it is a heuristic, not a reordering distance.
	var reorders int
	for i := 1; i < len(a.matched); i++ {
		if a.matched[i-1].pos > a.matched[i].pos {
			reorders++
		}
	}

	for seq, ts := range a.sent {
		if ts < end {
			delete(a.sent, seq)
		}
	}
	for seq, r := range a.received {
		if r.ts < end {
			delete(a.received, seq)
		}
	}

	res := Result{
		Index:    index,
		End:      end,
		Sent:     len(a.selected),
		Lost:     len(a.selected) - len(a.matched),
		Reorders: reorders,
		Latency: Latency{
			Samples: a.latency.SampleCount(),
			Mean:    a.latency.Mean(),
			Min:     a.latency.Min(),
			Max:     a.latency.Max(),
			StdDev:  a.latency.StdDev(),
		},
	}

	a.totals.Sent += res.Sent
	a.totals.Lost += res.Lost
	a.totals.Reorders += res.Reorders
	return res
}
