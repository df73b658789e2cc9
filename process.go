package main

import (
	"fmt"
	"strconv"
	"time"
	"udpprobe/pkg/clock"
	"udpprobe/pkg/window"
)

func (s *session) banner() {
	fmt.Fprintf(s.out, "Connected to the UDP test server at %s. Performing test.\n", s.peer)
	fmt.Fprintf(s.out, " Packet rate: %d packets/s\n", s.conf.rate)
	fmt.Fprintf(s.out, " Packet size: %d B\n", s.conf.size)
	fmt.Fprintf(s.out, " Expected bandwidth: %s\n\n", bandwidth(s.conf.rate*s.conf.size))
}

func (s *session) report(epoch clock.Epoch, r window.Result) {
	s.metrics.ObserveWindow(r)
	fmt.Fprintln(s.out, formatResult(epoch.WallAt(r.End), s.peer, r))
}

func (s *session) summary(t window.Totals) {
	fmt.Fprintf(s.out, "Total sent %d, total lost %d, total reorder %d\n", t.Sent, t.Lost, t.Reorders)
}

func formatResult(ts time.Time, peer string, r window.Result) string {
	l := r.Latency
	return fmt.Sprintf("[%s] (%s): Sent %d, Lost %d, Reorder %d: Ping(ms) mean:%s min:%s max:%s stddev:%s",
		ts.UTC().Format(time.DateTime),
		peer,
		r.Sent,
		r.Lost,
		r.Reorders,
		ms(l.Mean, 2, l.Samples > 0),
		ms(l.Min, 2, l.Samples > 0),
		ms(l.Max, 2, l.Samples > 0),
		ms(l.StdDev, 1, l.Samples > 1),
	)
}

func ms(d time.Duration, prec int, valid bool) string {
	if !valid {
		return "n/a"
	}
	return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', prec, 64)
}

func bandwidth(bytesPerSec int) string {
	switch {
	case bytesPerSec < 1000:
		return fmt.Sprintf("%d B/s", bytesPerSec)
	case bytesPerSec < 1000_000:
		return fmt.Sprintf("%.1f kB/s", float64(bytesPerSec)/1000)
	default:
		return fmt.Sprintf("%.2f MB/s", float64(bytesPerSec)/1000_000)
	}
}
