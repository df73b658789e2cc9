package packet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"
	"udpprobe/pkg/clock"

	"golang.org/x/sys/unix"
)

var ErrSequenceExhausted = errors.New("sequence ids exhausted")

type SendFunc func([]byte) error

func NewSender(fd int, to unix.Sockaddr) SendFunc {
	return func(buf []byte) error {
		if err := unix.Sendto(fd, buf, 0, to); err != nil {
			return fmt.Errorf("sendto: %w", err)
		}
		return nil
	}
}

// Pacer sends one ping every 1/Rate seconds measured from Start. Deadlines are absolute,
// so a late wakeup is compensated by the following sends and the average rate holds.
type Pacer struct {
	Send  SendFunc
	Sends Recorder
	Start clock.Timestamp
	Rate  int
	Size  int

	first int32
}

func (p *Pacer) Run(ctx context.Context) error {
	if p.Rate <= 0 {
		return fmt.Errorf("invalid rate %d", p.Rate)
	}
	interval := float64(time.Second) / float64(p.Rate)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	var (
		buf    []byte
		err    error
		failed int
	)
	for seq := p.first; ; seq++ {
		next := p.Start + clock.Timestamp(float64(seq-p.first)*interval)
		if wait := next.Sub(clock.Now()); wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err = ctx.Err(); err != nil {
			return err
		}

		if buf, err = AppendPacket(buf[:0], TagPing, seq, p.Size); err != nil {
			return err
		}

		now := clock.Now()
		if err = p.Send(buf); err != nil {
			failed++
			log.Printf("seq %d: %v (%d send failures)", seq, err, failed)
		}
		// kept even on failure: the packet then shows up as lost
		p.Sends.Put(seq, now)

		if seq == math.MaxInt32 {
			return ErrSequenceExhausted
		}
	}
}
