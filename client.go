package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"runtime/debug"
	"sync"
	"time"
	"udpprobe/pkg/clock"
	"udpprobe/pkg/metrics"
	"udpprobe/pkg/packet"
	"udpprobe/pkg/socket"
	"udpprobe/pkg/store"
	"udpprobe/pkg/window"

	"golang.org/x/sys/unix"
)

var (
	ErrConnection = errors.New("could not connect to the UDP test server")
	ErrProtocol   = errors.New("unexpected hello reply from the UDP test server")
)

type session struct {
	conf    Config
	peer    string
	out     io.Writer
	state   State
	metrics *metrics.Metrics
}

// Client runs one probe session against the server in conf and writes the window reports
// and the final summary to out. It returns once the session is over; ErrConnection and
// ErrProtocol mean the handshake failed and nothing was measured.
func Client(ctx context.Context, conf Config, out io.Writer) error {
	addr, err := net.ResolveUDPAddr(conf.network, net.JoinHostPort(conf.host, conf.port))
	if err != nil {
		return fmt.Errorf("resolve addr: %w", err)
	}

	fd, err := socket.Open(addr)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	to := socket.Addr(addr)
	s := &session{
		conf: conf,
		peer: socket.AddrToString(to),
		out:  out,
	}
	s.metrics = metrics.New(s.peer)

	s.enter(Handshake)
	if err = handshake(ctx, fd, to, s.peer, conf.helloTimeout, conf.recvTimeout); err != nil {
		return err
	}
	s.banner()

	if conf.metricsAddr != "" {
		if err = s.metrics.Serve(ctx, conf.metricsAddr); err != nil {
			return err
		}
	}

	if err = socket.SetRecvTimeout(fd, conf.recvTimeout); err != nil {
		return err
	}

	sends, recvs := store.New(), store.New()
	epoch := clock.NewEpoch()

	pacer := &packet.Pacer{
		Send:  packet.NewSender(fd, to),
		Sends: sends,
		Start: epoch.Mono,
		Rate:  conf.rate,
		Size:  conf.size,
	}
	receiver := &packet.Receiver{
		Recv:    packet.NewReceiver(fd),
		Recvs:   recvs,
		Peer:    s.peer,
		Size:    conf.size,
		Invalid: func(error) { s.metrics.InvalidResponse() },
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Go(func() { stopped("sender", pacer.Run(workerCtx)) })
	wg.Go(func() { stopped("receiver", receiver.Run(workerCtx)) })

	s.enter(Running)
	totals, end := s.analyze(ctx, epoch, sends, recvs)
	s.enter(end)

	s.enter(Report)
	s.summary(totals)

	cancel()
	s.join(&wg)
	s.enter(Terminated)
	return nil
}

// handshake waits for the hello reply in slices of poll so that ctx is honored while the
// server stays silent.
func handshake(ctx context.Context, fd int, to unix.Sockaddr, peer string, timeout, poll time.Duration) error {
	if err := socket.SetRecvTimeout(fd, min(timeout, poll)); err != nil {
		return err
	}
	if err := unix.Sendto(fd, []byte(packet.HelloRequest), 0, to); err != nil {
		return fmt.Errorf("%w at %s: sendto: %v", ErrConnection, peer, err)
	}

	buf := make([]byte, 4096)
	deadline := time.Now().Add(timeout)
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("handshake with %s: %w", peer, err)
		}

		n, _, err := unix.Recvfrom(fd, buf, 0)
		switch {
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
			if time.Now().Before(deadline) {
				continue
			}
			return fmt.Errorf("%w at %s: no reply within %v", ErrConnection, peer, timeout)
		case errors.Is(err, unix.ECONNREFUSED):
			return fmt.Errorf("%w at %s: %v", ErrConnection, peer, err)
		case err != nil:
			return fmt.Errorf("recvfrom: %w", err)
		}

		if reply := string(buf[:n]); reply != packet.HelloReply {
			return fmt.Errorf("%w at %s: %q", ErrProtocol, peer, reply)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("handshake with %s: %w", peer, err)
		}
		return nil
	}
}

func (s *session) analyze(ctx context.Context, epoch clock.Epoch, sends, recvs *store.Store) (window.Totals, State) {
	a := window.New(window.Config{
		Start: epoch.Mono,
		Grace: window.DefaultGrace,
		Limit: int64(s.conf.count),
	}, sends, recvs)

	tick := time.NewTicker(s.conf.analysisInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.Totals(), Cancelled
		case <-tick.C:
		}

		for _, r := range s.step(a) {
			s.report(epoch, r)
		}
		if a.Done() {
			return a.Totals(), LimitReached
		}
	}
}

// step runs one analysis cycle; a failure is logged and monitoring goes on.
func (s *session) step(a *window.Analyzer) (results []window.Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("analysis of window %d failed: %v\n%s", a.Analyzed(), r, debug.Stack())
		}
	}()
	return a.Step(clock.Now())
}

func (s *session) join(wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.conf.joinTimeout):
		log.Printf("sender and receiver still running after %v, leaving them behind", s.conf.joinTimeout)
	}
}

func stopped(name string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("%s stopped: %v", name, err)
	}
}
