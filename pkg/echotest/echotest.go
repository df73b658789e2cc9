// Package echotest provides a loopback echo server speaking the probe protocol, for tests.
//
// The server answers "pinghelo" with "ponghelo" and returns every "ping" datagram as a
// "pong" of the same length, carrying the same sequence id and padding.
package echotest

import (
	"log"
	"net"
	"sync/atomic"
	"time"
	"udpprobe/pkg/packet"

	"github.com/ddirect/container/ttlmap"
)

type Options struct {
	// Drop returns true for sequence ids that get no reply.
	Drop func(seq int32) bool
	// Hold returns true for sequence ids whose reply is delayed until the next reply is sent.
	Hold func(seq int32) bool
	// Silent ignores the handshake.
	Silent bool
	// Hello replaces the handshake reply.
	Hello string
}

type client struct {
	received int
	echoed   int
}

type datagram struct {
	data []byte
	from *net.UDPAddr
}

type Server struct {
	conn   *net.UDPConn
	opts   Options
	held   [][]byte
	echoed atomic.Int64
	done   chan struct{}
}

func NewServer(opts Options) (*Server, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, err
	}
	s := &Server{
		conn: conn,
		opts: opts,
		done: make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

func (s *Server) Addr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// Echoed is the number of pings echoed so far; handshake replies are not counted.
func (s *Server) Echoed() int {
	return int(s.echoed.Load())
}

func (s *Server) Close() error {
	err := s.conn.Close()
	<-s.done
	return err
}

func (s *Server) receive() <-chan datagram {
	ch := make(chan datagram, 16)
	go func() {
		defer close(ch)
		buf := make([]byte, 1<<16)
		for {
			n, from, err := s.conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			ch <- datagram{data: append([]byte(nil), buf[:n]...), from: from}
		}
	}()
	return ch
}

func (s *Server) serve() {
	defer close(s.done)

	clients, expired := ttlmap.New[string, client](10*time.Second, time.Second)
	recvCh := s.receive()

	for {
		select {
		case gone := <-expired:
			for c := range gone {
				log.Printf("echotest: client %s expired after %d datagrams, %d echoed", c.Key(), c.Value.received, c.Value.echoed)
			}

		case d, ok := <-recvCh:
			if !ok {
				return
			}

			c, found := clients.GetOrCreate(d.from.String())
			if !found {
				log.Printf("echotest: new client %s", c.Key())
			}
			c.Value.received++

			if string(d.data) == packet.HelloRequest {
				if !s.opts.Silent {
					s.write(s.hello(), d.from)
				}
				continue
			}

			seq, err := packet.Decode(d.data, packet.TagPing, len(d.data))
			if err != nil {
				log.Printf("echotest: %v", err)
				continue
			}
			if s.opts.Drop != nil && s.opts.Drop(seq) {
				continue
			}

			pong := d.data
			copy(pong, packet.TagPong)
			if s.opts.Hold != nil && s.opts.Hold(seq) {
				s.held = append(s.held, pong)
				continue
			}

			for _, b := range append([][]byte{pong}, s.held...) {
				if s.write(b, d.from) {
					c.Value.echoed++
					s.echoed.Add(1)
				}
			}
			s.held = s.held[:0]
		}
	}
}

func (s *Server) hello() []byte {
	if s.opts.Hello != "" {
		return []byte(s.opts.Hello)
	}
	return []byte(packet.HelloReply)
}

func (s *Server) write(b []byte, to *net.UDPAddr) bool {
	if _, err := s.conn.WriteToUDP(b, to); err != nil {
		log.Printf("echotest: write to %s: %v", to, err)
		return false
	}
	return true
}
