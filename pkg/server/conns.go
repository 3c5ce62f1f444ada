package server

import (
	"net"
	"net/http"
	"sync"
)

// connSet tracks open client sockets from http.Server.ConnState.
type connSet struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
	empty chan struct{}
}

func newConnSet() *connSet {
	return &connSet{conns: map[net.Conn]struct{}{}}
}

func (s *connSet) track(c net.Conn, state http.ConnState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch state {
	case http.StateNew:
		s.conns[c] = struct{}{}
	case http.StateClosed, http.StateHijacked:
		delete(s.conns, c)
		if len(s.conns) == 0 && s.empty != nil {
			close(s.empty)
			s.empty = nil
		}
	}
}

func (s *connSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// drained returns a channel closed once no tracked socket remains.
func (s *connSet) drained() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan struct{})
	if len(s.conns) == 0 {
		close(ch)
		return ch
	}
	if s.empty == nil {
		s.empty = make(chan struct{})
	}
	return s.empty
}
