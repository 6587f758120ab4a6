// Package bbt talks to the JSON-RPC service of a running Better BibTeX.
package bbt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/signadot/zotero-ls/config"
	"github.com/signadot/zotero-ls/jsonrpc"
)

// Endpoint is the JSON-RPC path served by Better BibTeX.
const Endpoint = "/better-bibtex/json-rpc"

// ErrSchemaMismatch matches every *SchemaMismatch.
var ErrSchemaMismatch = errors.New("bbt: unexpected result schema")

// SchemaMismatch reports a result that does not have the shape a method
// promises. It indicates an incompatible Better BibTeX version.
type SchemaMismatch struct {
	Method string
	Result json.RawMessage
	Err    error
}

func (e *SchemaMismatch) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bbt: %s returned an unexpected result %s: %v", e.Method, e.Result, e.Err)
	}
	return fmt.Sprintf("bbt: %s returned an unexpected result %s", e.Method, e.Result)
}

func (e *SchemaMismatch) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSchemaMismatch}
	}
	return []error{ErrSchemaMismatch, e.Err}
}

// Translator names a Better BibTeX export format.
type Translator string

const (
	BibTeX           Translator = "Better BibTeX"
	BibLaTeX         Translator = "Better BibLaTeX"
	CitationKeyQuick Translator = "Better BibTeX Citation Key Quick Copy"
	CSLJSON          Translator = "Better CSL JSON"
	CSLYAML          Translator = "Better CSL YAML"
	JSON             Translator = "BetterBibTeX JSON"
)

var translators = []struct {
	short string
	tr    Translator
}{
	{"bibtex", BibTeX},
	{"biblatex", BibLaTeX},
	{"citekey", CitationKeyQuick},
	{"csl-json", CSLJSON},
	{"csl-yaml", CSLYAML},
	{"json", JSON},
}

// Translators returns every supported translator.
func Translators() []Translator {
	res := make([]Translator, len(translators))
	for i := range translators {
		res[i] = translators[i].tr
	}
	return res
}

// Valid reports whether t is one of the supported translators.
func (t Translator) Valid() bool {
	for i := range translators {
		if translators[i].tr == t {
			return true
		}
	}
	return false
}

// ParseTranslator accepts a translator display name or its short name
// (bibtex, biblatex, citekey, csl-json, csl-yaml, json).
func ParseTranslator(name string) (Translator, error) {
	for i := range translators {
		if strings.EqualFold(name, translators[i].short) || name == string(translators[i].tr) {
			return translators[i].tr, nil
		}
	}
	return "", fmt.Errorf("unknown translator %q", name)
}

// ReadyStatus is the identity Better BibTeX reports from api.ready.
type ReadyStatus struct {
	BetterBibTeX string `json:"betterbibtex"`
	Zotero       string `json:"zotero"`
}

// Client is a typed facade over the Better BibTeX JSON-RPC methods.
type Client struct {
	rpc *jsonrpc.Client
}

// New returns a Client issuing calls through rpc. Closing the Client
// closes rpc.
func New(rpc *jsonrpc.Client) *Client {
	return &Client{rpc: rpc}
}

// Dial returns a Client for the service selected by opts. No connection is
// made until the first call.
func Dial(opts *config.Options, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	t, err := jsonrpc.NewHTTPTransport(opts.ServiceURL(), nil)
	if err != nil {
		return nil, err
	}
	return New(jsonrpc.NewClient(t, jsonrpc.WithLogger(log))), nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	var p any
	if params != nil {
		p = params
	}
	return c.rpc.Call(ctx, Endpoint, method, p)
}

// IsReady calls api.ready.
func (c *Client) IsReady(ctx context.Context) (ReadyStatus, error) {
	const method = "api.ready"
	res, err := c.call(ctx, method, nil)
	if err != nil {
		return ReadyStatus{}, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(res, &fields); err != nil {
		return ReadyStatus{}, &SchemaMismatch{Method: method, Result: res, Err: err}
	}
	var st ReadyStatus
	for name, dst := range map[string]*string{"betterbibtex": &st.BetterBibTeX, "zotero": &st.Zotero} {
		raw, ok := fields[name]
		if !ok {
			return ReadyStatus{}, &SchemaMismatch{Method: method, Result: res, Err: fmt.Errorf("missing field %q", name)}
		}
		if string(raw) == "null" {
			return ReadyStatus{}, &SchemaMismatch{Method: method, Result: res, Err: fmt.Errorf("field %q is null", name)}
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return ReadyStatus{}, &SchemaMismatch{Method: method, Result: res, Err: fmt.Errorf("field %q: %w", name, err)}
		}
	}
	return st, nil
}

// ExportItems calls item.export and returns the exported text verbatim.
// The library id is only sent when libraryID is non-nil; the service
// treats a two element parameter list differently from an explicit null.
func (c *Client) ExportItems(ctx context.Context, keys []string, tr Translator, libraryID *string) (string, error) {
	const method = "item.export"
	if len(keys) == 0 {
		return "", errors.New("bbt: item.export needs at least one citation key")
	}
	if !tr.Valid() {
		return "", fmt.Errorf("bbt: unknown translator %q", tr)
	}
	params := []any{keys, tr}
	if libraryID != nil {
		params = append(params, *libraryID)
	}
	res, err := c.call(ctx, method, params)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(res, &text); err != nil {
		return "", &SchemaMismatch{Method: method, Result: res, Err: err}
	}
	return text, nil
}

// Close releases the transport. It is safe to call more than once.
func (c *Client) Close() error {
	return c.rpc.Close()
}
