package packet

import (
	"context"
	"errors"
	"fmt"
	"log"
	"udpprobe/pkg/clock"
	"udpprobe/pkg/socket"

	"golang.org/x/sys/unix"
)

const maxDatagram = 1 << 16

type RecvFunc func() ([]byte, clock.Timestamp, unix.Sockaddr, error)

// NewReceiver returns a blocking receive function. The returned slice is reused by the
// next call.
func NewReceiver(fd int) RecvFunc {
	buf := make([]byte, maxDatagram)

	return func() ([]byte, clock.Timestamp, unix.Sockaddr, error) {
		n, from, err := unix.Recvfrom(fd, buf, 0)
		ts := clock.Now()
		if err != nil {
			return nil, 0, nil, fmt.Errorf("recvfrom: %w", err)
		}
		return buf[:n], ts, from, nil
	}
}

// Receiver decodes pongs and records their arrival time. Peer, when set, is the only
// source address accepted.
type Receiver struct {
	Recv    RecvFunc
	Recvs   Recorder
	Peer    string
	Size    int
	Invalid func(error)
}

func (r *Receiver) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		data, ts, from, err := r.Recv()
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			return err
		}

		if r.Peer != "" {
			if src := socket.AddrToString(from); src != r.Peer {
				r.invalid(fmt.Errorf("%w: unexpected source %s", ErrInvalidResponse, src))
				continue
			}
		}

		seq, err := Decode(data, TagPong, r.Size)
		if err != nil {
			r.invalid(err)
			continue
		}

		if !r.Recvs.Put(seq, ts) {
			log.Printf("seq %d: duplicate reply ignored", seq)
		}
	}
}

func (r *Receiver) invalid(err error) {
	log.Print(err)
	if r.Invalid != nil {
		r.Invalid(err)
	}
}
