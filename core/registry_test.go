package core

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrCreate_ReturnsSameSessionForSameID(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("abc123")
	b := r.GetOrCreate("abc123")
	assert.Same(t, a, b)
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_GetOrCreate_DifferentIDsAreDistinct(t *testing.T) {
	r := NewRegistry()
	a := r.GetOrCreate("one")
	b := r.GetOrCreate("two")
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_Drop_RemovesAndCloses(t *testing.T) {
	r := NewRegistry()
	client, server := net.Pipe()
	defer server.Close()

	s := r.GetOrCreate("sess")
	_, err := s.connect(func() (net.Conn, error) { return client, nil })
	require.NoError(t, err)

	r.Drop("sess")
	assert.Equal(t, 0, r.Len())

	buf := make([]byte, 1)
	_, err = server.Read(buf)
	assert.Error(t, err)
}

func TestSession_Connect_IsIdempotent_FirstCallerDials(t *testing.T) {
	r := NewRegistry()
	s := r.GetOrCreate("sess")

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	var dials int32
	dial := func() (net.Conn, error) {
		atomic.AddInt32(&dials, 1)
		return client, nil
	}

	var wg sync.WaitGroup
	results := make([]net.Conn, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := s.connect(dial)
			require.NoError(t, err)
			results[i] = conn
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&dials))
	for _, c := range results {
		assert.Same(t, client, c)
	}
}

func TestSession_Connect_PropagatesDialError(t *testing.T) {
	r := NewRegistry()
	s := r.GetOrCreate("sess")

	wantErr := errors.New("connect refused")
	dial := func() (net.Conn, error) { return nil, wantErr }

	_, err := s.connect(dial)
	assert.ErrorIs(t, err, wantErr)

	// A concurrent/subsequent caller observes the same recorded error rather
	// than re-dialing.
	_, err = s.connect(func() (net.Conn, error) {
		t.Fatal("dial should not be invoked twice")
		return nil, nil
	})
	assert.ErrorIs(t, err, wantErr)
}

func TestSession_ClaimUpload_RejectsSecondClaim(t *testing.T) {
	r := NewRegistry()
	s := r.GetOrCreate("sess")

	assert.True(t, s.claimUpload())
	assert.False(t, s.claimUpload())
}

func TestSession_Close_IsIdempotent(t *testing.T) {
	r := NewRegistry()
	s := r.GetOrCreate("sess")
	s.close()
	assert.NotPanics(t, func() { s.close() })
}

func TestSession_Touch_ResetsIdleWatchdog(t *testing.T) {
	expired := make(chan struct{})
	s := newSession("sess", func() { close(expired) })
	s.timer.Reset(30 * time.Millisecond)

	time.Sleep(15 * time.Millisecond)
	s.touch()

	select {
	case <-expired:
		t.Fatal("session expired despite touch resetting the watchdog")
	case <-time.After(20 * time.Millisecond):
	}

	// touch re-armed the watchdog for the full sessionIdleTTL, so it is still
	// pending rather than fired.
	assert.True(t, s.timer.Stop(), "watchdog was not armed after touch")

	// Once activity stops the watchdog still fires; shorten it so the test
	// need not wait out sessionIdleTTL.
	s.timer.Reset(30 * time.Millisecond)
	select {
	case <-expired:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("session never expired after activity stopped")
	}
}
