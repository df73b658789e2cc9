// Package store holds the records written by one producer goroutine until the analyzer
// drains them.
package store

import (
	"sync"
	"udpprobe/pkg/clock"

	"github.com/ddirect/container/fifo"
)

type Record struct {
	Seq int32
	Ts  clock.Timestamp
}

// Store is a locked FIFO of records. Drain hands over everything queued so far and
// leaves the store empty, keeping the producer's critical section to a single enqueue.
type Store struct {
	mu      sync.Mutex
	records fifo.Fifo[Record]
	pending map[int32]struct{}
}

func New() *Store {
	return &Store{
		pending: make(map[int32]struct{}),
	}
}

// Put queues a record unless one with the same id is already waiting to be drained.
func (s *Store) Put(seq int32, ts clock.Timestamp) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found := s.pending[seq]; found {
		return false
	}
	s.pending[seq] = struct{}{}
	s.records.Enqueue(Record{Seq: seq, Ts: ts})
	return true
}

// Drain appends the queued records to dst in insertion order and clears the store.
func (s *Store) Drain(dst []Record) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	for {
		r, ok := s.records.Dequeue()
		if !ok {
			break
		}
		dst = append(dst, r)
	}
	clear(s.pending)
	return dst
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records.Len()
}
