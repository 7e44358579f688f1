package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// ErrBadPattern marks handler errors caused by an unusable search pattern.
var ErrBadPattern = errors.New("bad pattern")

// Handler answers the daemon's RPC methods.
type Handler interface {
	Search(ctx context.Context, params SearchParams) (*SearchReply, error)
	Info() InfoResult
}

// Server accepts JSON-RPC connections on a TCP address.
type Server struct {
	addr        string
	handler     Handler
	connTimeout time.Duration

	mu       sync.Mutex
	listener net.Listener
	shutdown bool
	wg       sync.WaitGroup
}

// NewServer creates a server for handler. connTimeout bounds each
// connection, including the search it carries.
func NewServer(addr string, handler Handler, connTimeout time.Duration) *Server {
	if connTimeout <= 0 {
		connTimeout = DefaultRPCTimeout
	}
	return &Server{addr: addr, handler: handler, connTimeout: connTimeout}
}

// Listen binds the address. Serve must be called afterwards.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ListenAndServe binds and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Serve accepts connections until ctx is cancelled or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()
	if listener == nil {
		return fmt.Errorf("serve called before listen")
	}

	slog.Info("daemon listening", slog.String("addr", listener.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			shutdown := s.shutdown
			s.mu.Unlock()
			if shutdown {
				break
			}
			// Errors such as EMFILE persist until a connection closes.
			backoff = min(max(2*backoff, minAcceptBackoff), maxAcceptBackoff)
			slog.Error("accept error",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.wg.Wait()
	return ctx.Err()
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(s.connTimeout)); err != nil {
		slog.Warn("failed to set connection deadline", slog.String("error", err.Error()))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
		ID      string          `json:"id"`
	}
	if err := decoder.Decode(&req); err != nil {
		_ = encoder.Encode(NewErrorResponse("", ErrCodeParseError, "failed to parse request"))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, s.connTimeout)
	defer cancel()

	var resp Response
	switch req.Method {
	case MethodInfo:
		resp = NewSuccessResponse(req.ID, s.handler.Info())
	case MethodSearch:
		resp = s.handleSearch(ctx, req.ID, req.Params)
	default:
		resp = NewErrorResponse(req.ID, ErrCodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
	_ = encoder.Encode(resp)
}

func (s *Server) handleSearch(ctx context.Context, id string, raw json.RawMessage) Response {
	var params SearchParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return NewErrorResponse(id, ErrCodeInvalidParams, "failed to decode params")
	}
	if err := params.Validate(); err != nil {
		return NewErrorResponse(id, ErrCodeInvalidParams, err.Error())
	}

	reply, err := s.handler.Search(ctx, params)
	if err != nil {
		if errors.Is(err, ErrBadPattern) {
			return NewErrorResponse(id, ErrCodeBadPattern, err.Error())
		}
		return NewErrorResponse(id, ErrCodeSearchFailed, err.Error())
	}
	return NewSuccessResponse(id, reply)
}

// Close stops accepting connections.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shutdown = true
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}
