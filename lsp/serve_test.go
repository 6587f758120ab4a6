package lsp

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/complete"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
)

// stallingConnector holds its first scan open until the scan's context
// is cancelled. Later scans go to the database.
type stallingConnector struct {
	db        citekey.Connector
	opens     atomic.Int32
	entered   chan struct{}
	cancelled chan struct{}
}

func newStallingConnector(db citekey.Connector) *stallingConnector {
	return &stallingConnector{db: db, entered: make(chan struct{}), cancelled: make(chan struct{})}
}

func (c *stallingConnector) Open(ctx context.Context) (citekey.Session, error) {
	if c.opens.Add(1) > 1 {
		return c.db.Open(ctx)
	}
	close(c.entered)
	select {
	case <-ctx.Done():
		close(c.cancelled)
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return c.db.Open(ctx)
	}
}

// serve runs f.srv over a pipe and returns the editor's end of the
// connection. The session's key source is replaced by conn.
func (f *fixture) serve(t *testing.T, conn citekey.Connector) jsonrpc2.Conn {
	t.Helper()
	sess := f.srv.session()
	sess.Orchestrator = complete.New(citekey.NewSource(conn, quiet), sess.BBT, complete.WithLogger(quiet))

	ctx, cancel := context.WithCancel(context.Background())
	serverSide, editorSide := net.Pipe()
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, serverSide) }()

	editor := jsonrpc2.NewConn(jsonrpc2.NewStream(editorSide))
	editor.Go(ctx, jsonrpc2.MethodNotFoundHandler)
	t.Cleanup(func() {
		editor.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return editor
}

func completionParams(u protocol.DocumentURI, line, char uint32) *protocol.CompletionParams {
	return &protocol.CompletionParams{
		TextDocumentPositionParams: protocol.TextDocumentPositionParams{
			TextDocument: protocol.TextDocumentIdentifier{URI: u},
			Position:     protocol.Position{Line: line, Character: char},
		},
	}
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestServeNewerCompletionCancelsStalledListing(t *testing.T) {
	f := setup(t, "doe2020", "lee2021")
	u := f.open(t, "stall.tex", "latex", `\cite{`)
	conn := newStallingConnector(f.srv.session().DB)
	editor := f.serve(t, conn)

	first := make(chan error, 1)
	go func() {
		var list protocol.CompletionList
		_, err := editor.Call(context.Background(), protocol.MethodTextDocumentCompletion, completionParams(u, 0, 6), &list)
		first <- err
	}()
	waitFor(t, conn.entered, "first listing to start")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var list protocol.CompletionList
	if _, err := editor.Call(ctx, protocol.MethodTextDocumentCompletion, completionParams(u, 0, 6), &list); err != nil {
		t.Fatalf("second completion: %v", err)
	}
	if diff := cmp.Diff([]string{"doe2020", "lee2021"}, itemLabels(&list)); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
	waitFor(t, conn.cancelled, "first listing to be cancelled")
	select {
	case err := <-first:
		if err == nil {
			t.Error("cancelled completion returned no error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("first completion never answered")
	}
}

func TestServeCancelRequestStopsListing(t *testing.T) {
	f := setup(t, "doe2020")
	u := f.open(t, "cancel.tex", "latex", `\cite{`)
	conn := newStallingConnector(f.srv.session().DB)
	editor := f.serve(t, conn)

	first := make(chan error, 1)
	go func() {
		var list protocol.CompletionList
		_, err := editor.Call(context.Background(), protocol.MethodTextDocumentCompletion, completionParams(u, 0, 6), &list)
		first <- err
	}()
	waitFor(t, conn.entered, "listing to start")

	// The editor's first request on a fresh connection has id 1.
	if err := editor.Notify(context.Background(), protocol.MethodCancelRequest, &protocol.CancelParams{ID: 1}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, conn.cancelled, "listing to be cancelled")
	select {
	case err := <-first:
		if err == nil {
			t.Error("cancelled completion returned no error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled completion never answered")
	}

	// The connection keeps serving after a cancellation.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var list protocol.CompletionList
	if _, err := editor.Call(ctx, protocol.MethodTextDocumentCompletion, completionParams(u, 0, 6), &list); err != nil {
		t.Fatalf("completion after cancel: %v", err)
	}
	if diff := cmp.Diff([]string{"doe2020"}, itemLabels(&list)); diff != "" {
		t.Errorf("labels (-want +got):\n%s", diff)
	}
}
