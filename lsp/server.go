// Package lsp serves citation completion to editors over the Language
// Server Protocol.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/signadot/zotero-ls/config"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// Name is the server name reported to editors.
const Name = "zotero-ls"

// Version is set at build time.
var Version = "0.0.1"

// readyTimeout bounds the readiness check run after initialization.
const readyTimeout = 10 * time.Second

var errNotInitialized = errors.New("server not initialized")

// notifier sends notifications to the editor. jsonrpc2.Conn is one.
type notifier interface {
	Notify(ctx context.Context, method string, params interface{}) error
}

// Server implements protocol.Server. Everything it owns beyond open
// documents lives in the Session created by Initialize.
type Server struct {
	log  *slog.Logger
	base *config.Options
	docs *documentStore

	conn        jsonrpc2.Conn
	client      notifier
	completions completionCanceller

	mu   sync.Mutex
	sess *Session
	bg   sync.WaitGroup
}

// NewServer returns a server whose sessions start from base, with the
// editor's initializationOptions merged over it.
func NewServer(base *config.Options, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if base == nil {
		base = config.DefaultOptions()
	}
	return &Server{
		log:  log,
		base: base,
		docs: newDocumentStore(),
	}
}

// Serve runs the protocol over rwc until the editor exits, the stream
// ends or ctx is done.
func (s *Server) Serve(ctx context.Context, rwc io.ReadWriteCloser) error {
	conn := jsonrpc2.NewConn(jsonrpc2.NewStream(rwc))
	s.conn = conn
	s.client = conn
	conn.Go(ctx, s.handler())
	select {
	case <-ctx.Done():
		conn.Close()
		<-conn.Done()
	case <-conn.Done():
	}
	if err := s.closeSession(); err != nil {
		s.log.Warn("closing session", "error", err)
	}
	err := conn.Err()
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// handler dispatches requests in order on their own goroutines so the
// read loop keeps running: $/cancelRequest and newer completions can then
// cancel a listing still draining the store.
func (s *Server) handler() jsonrpc2.Handler {
	h := jsonrpc2.ReplyHandler(protocol.ServerHandler(s, nil))
	h = jsonrpc2.AsyncHandler(h)
	h = s.completions.supersede(h)
	return protocol.CancelHandler(h)
}

func (s *Server) session() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

func (s *Server) closeSession() error {
	s.bg.Wait()
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.mu.Unlock()
	if sess == nil {
		return nil
	}
	s.log.Info("shutting down Better BibTeX connection")
	return sess.Close()
}

func (s *Server) Initialize(ctx context.Context, params *protocol.InitializeParams) (*protocol.InitializeResult, error) {
	raw, err := json.Marshal(params.InitializationOptions)
	if err != nil {
		return nil, fmt.Errorf("invalid initialization options: %w", err)
	}
	opts, err := s.base.Merge(raw)
	if err != nil {
		return nil, err
	}
	sess, err := OpenSession(opts, s.log)
	if err != nil {
		s.log.Error("initialize failed", "error", err)
		return nil, err
	}
	if err := s.closeSession(); err != nil {
		s.log.Warn("closing previous session", "error", err)
	}
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	s.log.Info("session started", "database", sess.DB.Path(), "service", opts.ServiceURL())

	capabilities := protocol.ServerCapabilities{
		TextDocumentSync: &protocol.TextDocumentSyncOptions{
			Change:    protocol.TextDocumentSyncKindFull,
			OpenClose: true,
		},
		HoverProvider: true,
		CompletionProvider: &protocol.CompletionOptions{
			ResolveProvider:   true,
			TriggerCharacters: []string{"{", ","},
		},
	}
	return &protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.ServerInfo{
			Name:    Name,
			Version: Version,
		},
	}, nil
}

// Initialized checks in the background that Better BibTeX answers.
func (s *Server) Initialized(ctx context.Context, params *protocol.InitializedParams) error {
	sess := s.session()
	if sess == nil {
		return nil
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.checkReady(context.WithoutCancel(ctx), sess)
	}()
	return nil
}

func (s *Server) checkReady(ctx context.Context, sess *Session) {
	ctx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	st, err := sess.BBT.IsReady(ctx)
	if err != nil {
		s.log.Warn("Better BibTeX is not ready", "error", err)
		s.notify(ctx, protocol.MethodWindowShowMessage, &protocol.ShowMessageParams{
			Type:    protocol.MessageTypeWarning,
			Message: fmt.Sprintf("%s: Better BibTeX is not reachable, citation details are unavailable: %v", Name, err),
		})
		return
	}
	s.log.Info("Better BibTeX ready", "betterbibtex", st.BetterBibTeX, "zotero", st.Zotero)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.closeSession()
}

func (s *Server) Exit(ctx context.Context) error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Server) SetTrace(ctx context.Context, params *protocol.SetTraceParams) error {
	return nil
}

// logMessage reports a contained failure in the editor's log.
func (s *Server) logMessage(ctx context.Context, typ protocol.MessageType, msg string) {
	s.notify(ctx, protocol.MethodWindowLogMessage, &protocol.LogMessageParams{Type: typ, Message: msg})
}

func (s *Server) notify(ctx context.Context, method string, params interface{}) {
	if s.client == nil {
		return
	}
	if err := s.client.Notify(ctx, method, params); err != nil {
		s.log.Debug("notify failed", "method", method, "error", err)
	}
}
