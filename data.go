package main

import (
	"fmt"
	"log"
)

// State is the session lifecycle. Sessions only move forward; Cancelled and LimitReached
// are alternative ends of Running.
type State int

const (
	Init State = iota
	Handshake
	Running
	Cancelled
	LimitReached
	Report
	Terminated
)

var stateNames = [...]string{
	Init:         "init",
	Handshake:    "handshake",
	Running:      "running",
	Cancelled:    "cancelled",
	LimitReached: "limit reached",
	Report:       "report",
	Terminated:   "terminated",
}

func (st State) String() string {
	if st < 0 || int(st) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(st))
	}
	return stateNames[st]
}

func (s *session) enter(next State) {
	if next <= s.state || (s.state == Cancelled && next == LimitReached) {
		panic(fmt.Errorf("invalid session transition %v -> %v", s.state, next))
	}
	log.Printf("%s: %v -> %v", s.peer, s.state, next)
	s.state = next
}
