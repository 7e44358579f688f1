package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeHandler answers searches from a fixed reply.
type fakeHandler struct {
	reply    SearchReply
	err      error
	block    chan struct{}
	searches atomic.Int32
	last     SearchParams
	mu       sync.Mutex
}

func (h *fakeHandler) Search(ctx context.Context, params SearchParams) (*SearchReply, error) {
	h.searches.Add(1)
	h.mu.Lock()
	h.last = params
	h.mu.Unlock()
	if h.block != nil {
		select {
		case <-h.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.err != nil {
		return nil, h.err
	}
	reply := h.reply
	return &reply, nil
}

func (h *fakeHandler) Info() InfoResult {
	return InfoResult{Tree: "test", PID: 1}
}

func (h *fakeHandler) lastParams() SearchParams {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}

// freePort returns a loopback port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// startServer serves h on addr until the test ends or the returned stop
// function is called.
func startServer(t *testing.T, addr string, h Handler) (*Server, func()) {
	t.Helper()
	srv := NewServer(addr, h, 5*time.Second)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ctx)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Errorf("server on %s did not stop", addr)
			}
		})
	}
	t.Cleanup(stop)
	return srv, stop
}

func loopback(port int) string {
	return fmt.Sprintf("localhost:%d", port)
}
