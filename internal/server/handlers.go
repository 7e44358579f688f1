package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/Aman-CERP/xrefsearch/internal/daemon"
	xerrors "github.com/Aman-CERP/xrefsearch/internal/errors"
	"github.com/Aman-CERP/xrefsearch/internal/query"
)

const (
	contentTypeJSON = "application/json;charset=utf-8"
	contentTypeHTML = "text/html;charset=utf-8"
)

// htmlEscaper keeps reflected query text from closing the template's
// script element.
var htmlEscaper = strings.NewReplacer("</", `<\/`, "<script", `<\script`, "<!", `<\!`)

// reply is a fully rendered response, built by a worker goroutine and
// written by the request goroutine.
type reply struct {
	status      int
	contentType string
	location    string
	body        []byte
}

type workFunc func(ctx context.Context, r *http.Request) (*reply, error)

type outcome struct {
	reply *reply
	err   error
}

// isolate runs fn in its own goroutine under the request deadline.
func (s *Server) isolate(fn workFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()

		done := make(chan outcome, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					slog.Error("request panicked",
						slog.String("path", r.URL.Path),
						slog.String("panic", fmt.Sprint(p)),
						slog.String("stack", string(debug.Stack())))
					done <- outcome{err: xerrors.New(xerrors.ErrCodeInternal, "internal error", nil)}
				}
			}()
			rep, err := fn(ctx, r)
			done <- outcome{reply: rep, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil {
				if errors.Is(out.err, context.DeadlineExceeded) {
					out.err = xerrors.New(xerrors.ErrCodeRequestTimeout, "request timed out", out.err)
				}
				writeError(w, out.err)
				return
			}
			writeReply(w, out.reply)
		case <-ctx.Done():
			// the worker may still be blocked; its result is dropped
			slog.Warn("request timed out",
				slog.String("path", r.URL.Path),
				slog.String("query", r.URL.RawQuery),
				slog.Duration("timeout", s.cfg.RequestTimeout))
			writeError(w, xerrors.New(xerrors.ErrCodeRequestTimeout, "request timed out", ctx.Err()))
		}
	})
}

func (s *Server) search(ctx context.Context, r *http.Request) (*reply, error) {
	tree := mux.Vars(r)["tree"]
	resp, err := s.engine.Search(ctx, tree, query.RequestFromValues(r.URL.Query()))
	if err != nil {
		return nil, err
	}
	return s.render(r, tree, "search.html", resp)
}

func (s *Server) sorch(ctx context.Context, r *http.Request) (*reply, error) {
	tree := mux.Vars(r)["tree"]
	return s.runSorch(ctx, r, tree, query.RequestFromValues(r.URL.Query()))
}

// symbol is a sorch for symbol:<q>.
func (s *Server) symbol(ctx context.Context, r *http.Request) (*reply, error) {
	tree := mux.Vars(r)["tree"]
	q := r.URL.Query().Get("q")
	if q == "" {
		return nil, xerrors.New(xerrors.ErrCodeInvalidQuery, "missing q parameter", nil)
	}
	return s.runSorch(ctx, r, tree, query.Request{Q: "symbol:" + q})
}

func (s *Server) runSorch(ctx context.Context, r *http.Request, tree string, req query.Request) (*reply, error) {
	resp, err := s.engine.Sorch(ctx, tree, req)
	if err != nil {
		return nil, err
	}
	return s.render(r, tree, "sorch.html", resp)
}

// define redirects to the first definition of the q symbol.
func (s *Server) define(ctx context.Context, r *http.Request) (*reply, error) {
	tree := mux.Vars(r)["tree"]
	sym := r.URL.Query().Get("q")
	if sym == "" {
		return nil, xerrors.New(xerrors.ErrCodeInvalidQuery, "missing q parameter", nil)
	}

	path, lno, err := s.engine.Define(ctx, tree, sym)
	if err != nil {
		return nil, err
	}
	return &reply{
		status:   http.StatusFound,
		location: "/" + tree + "/source/" + path + "#" + strconv.Itoa(lno),
	}, nil
}

// render encodes v as JSON for JSON clients, otherwise into the tree's
// HTML template.
func (s *Server) render(r *http.Request, tree, templateName string, v any) (*reply, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	if strings.Contains(r.Header.Get("Accept"), "json") {
		return &reply{status: http.StatusOK, contentType: contentTypeJSON, body: body}, nil
	}

	t, err := s.engine.Registry().Get(tree)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(t.IndexPath, "templates", templateName)
	tmpl, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.New(xerrors.ErrCodeInternal, "template unavailable", err).
			WithDetail("path", path)
	}
	page := strings.NewReplacer(
		"{{BODY}}", htmlEscaper.Replace(string(body)),
		"{{TITLE}}", "Search",
	).Replace(string(tmpl))
	return &reply{status: http.StatusOK, contentType: contentTypeHTML, body: []byte(page)}, nil
}

func writeReply(w http.ResponseWriter, rep *reply) {
	if rep.location != "" {
		w.Header().Set("Location", rep.location)
	}
	if rep.contentType != "" {
		w.Header().Set("Content-Type", rep.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(rep.body)))
	w.WriteHeader(rep.status)
	_, _ = w.Write(rep.body)
}

// writeError sends the short JSON error body. Internal errors are logged
// with their cause; the client only sees the code and message.
func writeError(w http.ResponseWriter, err error) {
	status := xerrors.HTTPStatus(xerrors.GetCode(err))
	if status >= 500 {
		slog.Error("request failed", xerrors.FormatForLog(err)...)
	}
	body := xerrors.FormatForClient(err)
	if xerrors.IsRetryable(err) {
		w.Header().Set("Retry-After", "1")
	}
	w.Header().Set("Content-Type", contentTypeJSON)
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeJSON(w http.ResponseWriter, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, err)
		return
	}
	writeReply(w, &reply{status: http.StatusOK, contentType: contentTypeJSON, body: body})
}

// daemonHandle is implemented by full-text backends that report their
// process state.
type daemonHandle interface {
	Handle() daemon.Handle
}

type treeHealth struct {
	Name   string         `json:"name"`
	Daemon *daemon.Handle `json:"daemon,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	registry := s.engine.Registry()
	var trees []treeHealth
	for _, name := range registry.Names() {
		th := treeHealth{Name: name}
		if t, err := registry.Get(name); err == nil {
			if dh, ok := t.FullText.(daemonHandle); ok {
				h := dh.Handle()
				th.Daemon = &h
			}
		}
		trees = append(trees, th)
	}
	writeJSON(w, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
		"trees":  trees,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.metrics.Snapshot())
}

// admit applies the token bucket to tree routes.
func (s *Server) admit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, xerrors.New(xerrors.ErrCodeRateLimited, "too many requests", nil))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// varyAccept marks every response as depending on the Accept header,
// since it selects between JSON and HTML.
func varyAccept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Accept")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)))
	})
}
