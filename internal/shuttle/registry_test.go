package shuttle

import (
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listenOnce starts a TCP listener and returns its address; it accepts
// connections in a loop and counts every one it accepts.
func listenOnce(t *testing.T) (addr string, accepted *int32, ln net.Listener) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var count int32
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			atomic.AddInt32(&count, 1)
			go func() {
				buf := make([]byte, 256)
				for {
					if _, err := conn.Read(buf); err != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().String(), &count, l
}

func TestRegistryAcquireDedupesConcurrentDials(t *testing.T) {
	addr, accepted, ln := listenOnce(t)
	defer ln.Close()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	r := NewRegistry(nil)

	var wg sync.WaitGroup
	results := make([]*Conn, 20)
	errs := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conn, err := r.Acquire(context.Background(), "s1", host, port, time.Second)
			results[i] = conn
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i])
		assert.Same(t, results[0], results[i])
	}

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(accepted))
}

func TestRegistryAcquireReturnsRegisteredWithoutDialing(t *testing.T) {
	r := NewRegistry(nil)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	r.Register("s1", c1)

	conn, err := r.Acquire(context.Background(), "s1", "unreachable.invalid", 1, time.Second)
	require.NoError(t, err)
	assert.Same(t, c1, conn.Conn)
}

func TestRegistryCloseAllowsRedial(t *testing.T) {
	r := NewRegistry(nil)
	c1, c2 := net.Pipe()
	defer c2.Close()
	r.Register("s1", c1)
	require.True(t, r.IsConnected("s1"))

	require.NoError(t, r.Close("s1"))
	assert.False(t, r.IsConnected("s1"))
}

func TestRegistryAcquireDialTimeout(t *testing.T) {
	r := NewRegistry(nil)
	// 10.255.255.1 is a non-routable address chosen to force a dial
	// timeout rather than an immediate refusal.
	_, err := r.Acquire(context.Background(), "s1", "10.255.255.1", 81, 50*time.Millisecond)
	assert.Error(t, err)
}
