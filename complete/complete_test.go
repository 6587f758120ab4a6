package complete

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/signadot/zotero-ls/bbt"
	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/config"
	"github.com/signadot/zotero-ls/jsonrpc"
	"github.com/signadot/zotero-ls/trigger"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type sliceConnector struct {
	keys   []citekey.CitationKey
	err    error
	opened int
	onOpen func(ctx context.Context)
}

func (c *sliceConnector) Open(ctx context.Context) (citekey.Session, error) {
	c.opened++
	if c.onOpen != nil {
		c.onOpen(ctx)
	}
	if c.err != nil {
		return nil, c.err
	}
	return &sliceSession{keys: c.keys}, nil
}

type sliceSession struct {
	keys []citekey.CitationKey
}

func (s *sliceSession) Next(ctx context.Context, limit int) ([]citekey.CitationKey, error) {
	n := min(limit, len(s.keys))
	batch := s.keys[:n]
	s.keys = s.keys[n:]
	return batch, nil
}

func (s *sliceSession) Close() error { return nil }

type stubExporter struct {
	text string
	err  error

	calls []exportCall
}

type exportCall struct {
	Keys      []string
	Tr        bbt.Translator
	LibraryID *string
}

func (e *stubExporter) ExportItems(ctx context.Context, keys []string, tr bbt.Translator, libraryID *string) (string, error) {
	e.calls = append(e.calls, exportCall{Keys: keys, Tr: tr, LibraryID: libraryID})
	return e.text, e.err
}

func keys(names ...string) []citekey.CitationKey {
	out := make([]citekey.CitationKey, len(names))
	for i, n := range names {
		out[i] = citekey.CitationKey{Key: n, ItemKey: "ITEM" + n, LibraryID: 1}
	}
	return out
}

func labels(cs []Candidate) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Label()
	}
	return out
}

func TestCandidatesNoMatch(t *testing.T) {
	conn := &sliceConnector{keys: keys("doe2020")}
	o := New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(quiet))
	for _, prefix := range []string{"", "plain text", `\cite{doe2020} `, `\section{`} {
		cs, err := o.Candidates(context.Background(), trigger.TeX, prefix)
		if err != nil || cs != nil {
			t.Errorf("Candidates(%q) = %v, %v; want nil, nil", prefix, cs, err)
		}
	}
	if conn.opened != 0 {
		t.Errorf("store opened %d times without a match", conn.opened)
	}
	if o.State() != Idle {
		t.Errorf("state = %v, want idle", o.State())
	}
}

func TestCandidatesListing(t *testing.T) {
	all := keys("doe2020", "lee2021", "kim2019")
	for _, pageSize := range []int{1, 2, 200} {
		conn := &sliceConnector{keys: all}
		o := New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(quiet), WithPageSize(pageSize))
		cs, err := o.Candidates(context.Background(), trigger.TeX, `see \parencite[p.~3]{doe2020, `)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]string{"doe2020", "lee2021", "kim2019"}, labels(cs)); diff != "" {
			t.Errorf("page size %d (-want +got):\n%s", pageSize, diff)
		}
		for _, c := range cs {
			if c.Resolved || c.Documentation != "" {
				t.Errorf("listed candidate %q already resolved", c.Label())
			}
		}
	}
}

func TestCandidatesStoreFailure(t *testing.T) {
	conn := &sliceConnector{err: errors.New("unable to open database file")}
	o := New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(quiet))
	cs, err := o.Candidates(context.Background(), trigger.TeX, `\cite{`)
	if !errors.Is(err, citekey.ErrStoreUnavailable) {
		t.Fatalf("err = %v, want ErrStoreUnavailable", err)
	}
	if cs == nil || len(cs) != 0 {
		t.Errorf("candidates = %#v, want empty list", cs)
	}
}

func TestCandidatesFilter(t *testing.T) {
	all := []citekey.CitationKey{
		{Key: "doe2020", ItemKey: "A", LibraryID: 1},
		{Key: "tmp-draft", ItemKey: "B", LibraryID: 1},
		{Key: "lee2021", ItemKey: "C", LibraryID: 2},
	}
	f, err := CompileFilter(`libraryID == 1 && !(key startsWith "tmp")`)
	if err != nil {
		t.Fatal(err)
	}
	o := New(citekey.NewSource(&sliceConnector{keys: all}, quiet), &stubExporter{}, WithLogger(quiet), WithFilter(f))
	cs, err := o.Candidates(context.Background(), trigger.TeX, `\cite{`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"doe2020"}, labels(cs)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestCandidatesFilterRuntimeErrorLoggedOnce(t *testing.T) {
	f, err := CompileFilter(`int(key) > 0`)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	conn := &sliceConnector{keys: keys("doe2020", "lee2021", "kim2019", "2020")}
	o := New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(log), WithFilter(f))
	cs, err := o.Candidates(context.Background(), trigger.TeX, `\cite{`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2020"}, labels(cs)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
	if n := strings.Count(buf.String(), "level=WARN"); n != 2 {
		t.Errorf("got %d warnings for one listing, want 2:\n%s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "count=3") {
		t.Errorf("summary does not count the failing keys:\n%s", buf.String())
	}
}

func TestCompileFilter(t *testing.T) {
	if f, err := CompileFilter(""); f != nil || err != nil {
		t.Errorf(`CompileFilter("") = %v, %v`, f, err)
	}
	for _, src := range []string{`key + 1`, `nosuchvar == 1`, `key ==`} {
		if _, err := CompileFilter(src); err == nil {
			t.Errorf("CompileFilter(%q) succeeded", src)
		}
	}
	var nilFilter *Filter
	if ok, err := nilFilter.Match(citekey.CitationKey{Key: "x"}); !ok || err != nil {
		t.Errorf("nil filter Match = %v, %v", ok, err)
	}
}

func TestCandidatesState(t *testing.T) {
	var o *Orchestrator
	var during State
	conn := &sliceConnector{
		keys:   keys("doe2020"),
		onOpen: func(context.Context) { during = o.State() },
	}
	o = New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(quiet))
	if _, err := o.Candidates(context.Background(), trigger.TeX, `\cite{`); err != nil {
		t.Fatal(err)
	}
	if during != Listing {
		t.Errorf("state while draining = %v, want listing", during)
	}
	if o.State() != Idle {
		t.Errorf("state after listing = %v, want idle", o.State())
	}
}

func TestCandidatesSuperseded(t *testing.T) {
	started := make(chan struct{})
	conn := &sliceConnector{keys: keys("doe2020", "lee2021")}
	conn.onOpen = func(ctx context.Context) {
		if conn.opened == 1 {
			close(started)
			<-ctx.Done()
		}
	}
	o := New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(quiet))

	type result struct {
		cs  []Candidate
		err error
	}
	first := make(chan result, 1)
	go func() {
		cs, err := o.Candidates(context.Background(), trigger.TeX, `\cite{`)
		first <- result{cs, err}
	}()
	<-started

	cs, err := o.Candidates(context.Background(), trigger.TeX, `\cite{doe2020,`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"doe2020", "lee2021"}, labels(cs)); diff != "" {
		t.Errorf("newer listing (-want +got):\n%s", diff)
	}

	select {
	case r := <-first:
		if !errors.Is(r.err, ErrSuperseded) || r.cs != nil {
			t.Errorf("first listing = %v, %v; want nil, ErrSuperseded", r.cs, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("superseded listing never returned")
	}
}

func TestCandidatesCallerCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	conn := &sliceConnector{keys: keys("doe2020"), onOpen: func(context.Context) { cancel() }}
	o := New(citekey.NewSource(conn, quiet), &stubExporter{}, WithLogger(quiet))
	cs, err := o.Candidates(ctx, trigger.TeX, `\cite{`)
	if cs != nil || !errors.Is(err, context.Canceled) {
		t.Errorf("Candidates = %v, %v; want nil, context.Canceled", cs, err)
	}
}

func TestResolve(t *testing.T) {
	exp := &stubExporter{text: "@article{doe2020,\n  title = {A}\n}"}
	o := New(citekey.NewSource(&sliceConnector{}, quiet), exp, WithLogger(quiet))
	c := o.Resolve(context.Background(), Candidate{Key: citekey.CitationKey{Key: "doe2020"}})
	if !c.Resolved {
		t.Fatal("candidate not resolved")
	}
	want := "```bibtex\n@article{doe2020,\n  title = {A}\n}\n```"
	if c.Documentation != want {
		t.Errorf("documentation = %q, want %q", c.Documentation, want)
	}
	if diff := cmp.Diff([]exportCall{{Keys: []string{"doe2020"}, Tr: bbt.BibTeX}}, exp.calls); diff != "" {
		t.Errorf("export calls (-want +got):\n%s", diff)
	}
	// already resolved candidates are not exported again
	o.Resolve(context.Background(), c)
	if len(exp.calls) != 1 {
		t.Errorf("export called %d times", len(exp.calls))
	}
}

func TestResolveFailures(t *testing.T) {
	errs := []error{
		&jsonrpc.RemoteError{Code: jsonrpc.CodeServerError, Message: "no such key"},
		&jsonrpc.TransportError{Method: "item.export", Err: errors.New("connection refused")},
		&jsonrpc.MalformedResponse{Method: "item.export", Reason: "missing result"},
		&bbt.SchemaMismatch{Method: "item.export", Result: []byte("3")},
		errors.New("boom"),
	}
	for _, e := range errs {
		exp := &stubExporter{err: e}
		o := New(citekey.NewSource(&sliceConnector{}, quiet), exp, WithLogger(quiet))
		in := Candidate{Key: citekey.CitationKey{Key: "ghost"}}
		if got := o.Resolve(context.Background(), in); got != in {
			t.Errorf("Resolve with %v = %+v, want unresolved %+v", e, got, in)
		}
	}
}

// bbtService answers item.export for the keys in entries and fails the
// rest with a server error.
func bbtService(t *testing.T, entries map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage   `json:"id"`
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
			return
		}
		var ks []string
		if len(req.Params) > 0 {
			_ = json.Unmarshal(req.Params[0], &ks)
		}
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		resp["error"] = map[string]any{"code": -32000, "message": "no items found"}
		if len(ks) == 1 {
			if text, ok := entries[ks[0]]; ok {
				delete(resp, "error")
				resp["result"] = text
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEndToEnd(t *testing.T) {
	srv := bbtService(t, map[string]string{"doe2020": "@article{doe2020}"})
	svc, err := bbt.Dial(&config.Options{BaseURL: srv.URL + "/"}, quiet)
	if err != nil {
		t.Fatal(err)
	}
	defer svc.Close()
	o := New(citekey.NewSource(&sliceConnector{keys: keys("doe2020", "lee2021")}, quiet), svc, WithLogger(quiet))

	cs, err := o.Candidates(context.Background(), trigger.TeX, `\cite{`)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"doe2020", "lee2021"}, labels(cs)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	doe := o.Resolve(context.Background(), cs[0])
	if !doe.Resolved || doe.Documentation != "```bibtex\n@article{doe2020}\n```" {
		t.Errorf("doe2020 resolved to %+v", doe)
	}
	lee := o.Resolve(context.Background(), cs[1])
	if lee.Resolved || lee.Documentation != "" {
		t.Errorf("lee2021 should stay unresolved, got %+v", lee)
	}
}
