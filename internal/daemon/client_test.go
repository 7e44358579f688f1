package daemon

import (
	"context"
	"errors"
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

func TestClient_Info(t *testing.T) {
	srv, _ := startServer(t, "127.0.0.1:0", &fakeHandler{})
	client := NewClient(srv.Addr(), time.Second)

	info, err := client.Info(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", info.Tree)
}

func TestClient_SearchRoundTrip(t *testing.T) {
	h := &fakeHandler{reply: SearchReply{
		Results: []Match{{Path: "a.cpp", LineNumber: 3, Bounds: Bounds{1, 4}, Line: "xfoo"}},
		Stats:   SearchStats{ExitReason: ExitNone},
	}}
	srv, _ := startServer(t, "127.0.0.1:0", h)
	client := NewClient(srv.Addr(), time.Second)

	reply, err := client.Search(context.Background(), SearchParams{Line: "foo", File: "dom/", FoldCase: true, ContextLines: 2})
	require.NoError(t, err)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, Bounds{1, 4}, reply.Results[0].Bounds)
	assert.Equal(t, ExitNone, reply.Stats.ExitReason)

	got := h.lastParams()
	assert.Equal(t, "dom/", got.File)
	assert.True(t, got.FoldCase)
	assert.Equal(t, 2, got.ContextLines)
}

func TestClient_ConnectFailureIsTransport(t *testing.T) {
	client := NewClient(loopback(freePort(t)), time.Second)

	_, err := client.Info(context.Background())
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestClient_CancelledContextIsNotTransport(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	defer close(h.block)
	srv, _ := startServer(t, "127.0.0.1:0", h)
	client := NewClient(srv.Addr(), 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Search(ctx, SearchParams{Line: "x"})
	require.Error(t, err)
	assert.False(t, IsTransport(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_ReadDeadlineIsTimeout(t *testing.T) {
	h := &fakeHandler{block: make(chan struct{})}
	defer close(h.block)
	srv, _ := startServer(t, "127.0.0.1:0", h)
	client := NewClient(srv.Addr(), 100*time.Millisecond)

	_, err := client.Search(context.Background(), SearchParams{Line: "x"})
	require.Error(t, err)
	assert.False(t, IsTransport(err))
	assert.Equal(t, xerrors.ErrCodeDaemonTimeout, xerrors.GetCode(err))
	assert.True(t, xerrors.IsRetryable(err))
}

func TestClient_HangupIsTransport(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_, _ = bufio.NewReader(conn).ReadString('\n')
			_ = conn.Close()
		}
	}()

	client := NewClient(l.Addr().String(), time.Second)
	_, err = client.Search(context.Background(), SearchParams{Line: "x"})
	require.Error(t, err)
	assert.True(t, IsTransport(err))
}

func TestClient_BadPatternIsInvalidQuery(t *testing.T) {
	h := &fakeHandler{err: fmt.Errorf("%w: missing )", ErrBadPattern)}
	srv, _ := startServer(t, "127.0.0.1:0", h)
	client := NewClient(srv.Addr(), time.Second)

	_, err := client.Search(context.Background(), SearchParams{Line: "("})
	require.Error(t, err)
	assert.False(t, IsTransport(err))
	assert.Equal(t, xerrors.ErrCodeInvalidQuery, xerrors.GetCode(err))
}

func TestClient_HandlerFailureIsRPCError(t *testing.T) {
	h := &fakeHandler{err: errors.New("disk on fire")}
	srv, _ := startServer(t, "127.0.0.1:0", h)
	client := NewClient(srv.Addr(), time.Second)

	_, err := client.Search(context.Background(), SearchParams{Line: "x"})
	require.Error(t, err)
	assert.Equal(t, xerrors.ErrCodeDaemonRPC, xerrors.GetCode(err))
	assert.Contains(t, err.Error(), "disk on fire")
}

func TestClient_ValidatesParams(t *testing.T) {
	client := NewClient("localhost:1", time.Second)

	_, err := client.Search(context.Background(), SearchParams{Line: "x", ContextLines: 11})
	require.Error(t, err)
	assert.Equal(t, xerrors.ErrCodeInvalidQuery, xerrors.GetCode(err))

	_, err = client.Search(context.Background(), SearchParams{})
	require.Error(t, err)
}
