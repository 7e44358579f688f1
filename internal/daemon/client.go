package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
)

// TransportError reports that the daemon could not be reached or closed
// the connection before replying. It is the only failure that warrants a
// restart; a slow daemon yields ErrCodeDaemonTimeout instead.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("daemon %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Client talks JSON-RPC to one daemon over TCP. Each call uses a fresh
// connection carrying one request and one response.
type Client struct {
	addr      string
	timeout   time.Duration
	requestID atomic.Uint64
}

// NewClient creates a client for the daemon listening on addr.
func NewClient(addr string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRPCTimeout
	}
	return &Client{addr: addr, timeout: timeout}
}

// Addr returns the daemon address.
func (c *Client) Addr() string {
	return c.addr
}

// Info asks the daemon to describe itself. The supervisor polls it for readiness.
func (c *Client) Info(ctx context.Context) (*InfoResult, error) {
	var info InfoResult
	if err := c.call(ctx, MethodInfo, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Search runs a full-text search.
func (c *Client) Search(ctx context.Context, params SearchParams) (*SearchReply, error) {
	if err := params.Validate(); err != nil {
		return nil, xerrors.New(xerrors.ErrCodeInvalidQuery, err.Error(), err)
	}
	var reply SearchReply
	if err := c.call(ctx, MethodSearch, params, &reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (c *Client) call(ctx context.Context, method string, params, out any) error {
	dialer := net.Dialer{Timeout: c.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Op: "connect", Err: err}
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return &TransportError{Op: "set deadline", Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	req := Request{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
		ID:      c.nextID(),
	}
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return c.ioErr(ctx, "send", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
		ID     string          `json:"id"`
	}
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return c.ioErr(ctx, "receive", err)
	}

	if resp.Error != nil {
		return rpcError(method, resp.Error)
	}
	if out == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return xerrors.New(xerrors.ErrCodeDaemonRPC, fmt.Sprintf("decode %s result", method), err)
	}
	return nil
}

// ioErr classifies a send or receive failure. Only a connection the daemon
// dropped is a TransportError; a deadline expiring on a live connection
// means the daemon is slow, not gone.
func (c *Client) ioErr(ctx context.Context, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		return xerrors.New(xerrors.ErrCodeDaemonTimeout,
			fmt.Sprintf("daemon %s timed out after %s", op, c.timeout), err)
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return &TransportError{Op: op, Err: err}
	}
	return xerrors.New(xerrors.ErrCodeDaemonRPC, fmt.Sprintf("daemon %s failed", op), err)
}

// rpcError maps a JSON-RPC error to an XrefError. Pattern and parameter
// errors are the caller's fault; everything else is the daemon's.
func rpcError(method string, e *Error) error {
	switch e.Code {
	case ErrCodeBadPattern, ErrCodeInvalidParams:
		return xerrors.New(xerrors.ErrCodeInvalidQuery, e.Message, nil).
			WithDetail("rpc_code", fmt.Sprint(e.Code))
	default:
		return xerrors.New(xerrors.ErrCodeDaemonRPC, fmt.Sprintf("%s failed: %s", method, e.Message), nil).
			WithDetail("rpc_code", fmt.Sprint(e.Code))
	}
}

func (c *Client) nextID() string {
	id := c.requestID.Add(1)
	return fmt.Sprintf("req-%d", id)
}
