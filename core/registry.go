package core

import (
	"hash/fnv"
	"net"
	"sync"
	"time"
)

// SessionState is the V2 session lifecycle (SPEC_FULL.md §4.9).
type SessionState int

const (
	StateFresh SessionState = iota
	StateConnecting
	StateReady
	StateDraining
	StateClosed
)

// sessionIdleTTL is the idle-timeout watchdog duration (SPEC_FULL.md §4.6):
// every request against a session resets it.
const sessionIdleTTL = 45 * time.Second

// Session is the V2 per-id rendezvous record: at most one outbound socket,
// shared by exactly one POST-observer and one GET-observer in steady state.
type Session struct {
	id string

	mu      sync.Mutex
	state   SessionState
	conn    net.Conn
	connErr error
	ready   chan struct{}
	timer   *time.Timer

	uploadClaimed bool
}

func newSession(id string, onExpire func()) *Session {
	s := &Session{id: id, state: StateFresh, ready: make(chan struct{})}
	s.timer = time.AfterFunc(sessionIdleTTL, onExpire)
	return s
}

func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Reset(sessionIdleTTL)
	}
}

// claimUpload marks this session as having a POST upload. The claim is never
// released, so it returns false for every later claim on the same session,
// whether or not the first upload is still running — the caller should
// reject with 409 (SPEC_FULL.md §4.6, §7 PolicyError).
func (s *Session) claimUpload() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadClaimed {
		return false
	}
	s.uploadClaimed = true
	return true
}

// connect is idempotent: the first caller performs the actual dial and
// records the result; concurrent callers block on the ready latch and then
// observe the same outcome (SPEC_FULL.md §4.6, §9).
func (s *Session) connect(dial func() (net.Conn, error)) (net.Conn, error) {
	s.mu.Lock()
	if s.state == StateFresh {
		s.state = StateConnecting
		s.mu.Unlock()

		conn, err := dial()

		s.mu.Lock()
		s.conn, s.connErr = conn, err
		if err != nil {
			s.state = StateClosed
		} else {
			s.state = StateReady
		}
		ready := s.ready
		s.mu.Unlock()
		close(ready)
		return conn, err
	}

	ready := s.ready
	s.mu.Unlock()
	<-ready

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn, s.connErr
}

func (s *Session) markDraining() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.state = StateDraining
	}
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	if s.timer != nil {
		s.timer.Stop()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}

const registryShardCount = 32

type shard struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// Registry is the process-wide map pairing a V2 session id with its
// rendezvous record, sharded to bound lock contention (SPEC_FULL.md §4.6,
// §5 — "acceptable implementations include ... a per-entry lock").
type Registry struct {
	shards [registryShardCount]*shard
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{sessions: make(map[string]*Session)}
	}
	return r
}

func (r *Registry) shardFor(id string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return r.shards[h.Sum32()%registryShardCount]
}

// GetOrCreate returns the existing session for id, or installs a fresh one
// atomically.
func (r *Registry) GetOrCreate(id string) *Session {
	sh := r.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if s, ok := sh.sessions[id]; ok {
		s.touch()
		return s
	}
	s := newSession(id, func() { r.Drop(id) })
	sh.sessions[id] = s
	return s
}

// Drop removes id from the registry and closes its socket.
func (r *Registry) Drop(id string) {
	sh := r.shardFor(id)
	sh.mu.Lock()
	s, ok := sh.sessions[id]
	if ok {
		delete(sh.sessions, id)
	}
	sh.mu.Unlock()

	if ok {
		s.close()
	}
}

// Len reports the number of live sessions, for the /info diagnostic (C13).
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.Lock()
		n += len(sh.sessions)
		sh.mu.Unlock()
	}
	return n
}
