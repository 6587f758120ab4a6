// Package complete decides when to offer citation completions, lists the
// candidates and resolves their documentation on demand.
package complete

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/signadot/zotero-ls/bbt"
	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/jsonrpc"
	"github.com/signadot/zotero-ls/trigger"
)

// ErrSuperseded is returned by a listing cancelled by a newer one.
var ErrSuperseded = errors.New("completion superseded by a newer request")

// KeySource streams citation keys.
type KeySource interface {
	Stream(ctx context.Context, pageSize int) *citekey.Iterator
}

// Exporter exports items from the reference manager.
type Exporter interface {
	ExportItems(ctx context.Context, keys []string, tr bbt.Translator, libraryID *string) (string, error)
}

// State is the listing state of an Orchestrator.
type State int

const (
	Idle State = iota
	Detecting
	NoMatch
	Listing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case NoMatch:
		return "no-match"
	case Listing:
		return "listing"
	default:
		return "unknown"
	}
}

// Candidate is one offered citation key. Documentation is only set once
// the candidate has been resolved.
type Candidate struct {
	Key           citekey.CitationKey
	Documentation string
	Resolved      bool
}

// Label is the text shown and inserted for the candidate.
func (c Candidate) Label() string {
	return c.Key.Key
}

// Orchestrator ties trigger detection, the key source and the exporter
// together. Only one listing is live at a time: starting a new one
// cancels the previous.
type Orchestrator struct {
	src      KeySource
	svc      Exporter
	log      *slog.Logger
	pageSize int
	filter   *Filter

	mu     sync.Mutex
	state  State
	gen    uint64
	cancel context.CancelFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithPageSize sets the store batch size used while listing.
func WithPageSize(n int) Option {
	return func(o *Orchestrator) { o.pageSize = n }
}

// WithFilter restricts listings to keys matching f.
func WithFilter(f *Filter) Option {
	return func(o *Orchestrator) { o.filter = f }
}

// New returns an Orchestrator over src and svc.
func New(src KeySource, svc Exporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		src:      src,
		svc:      svc,
		log:      slog.Default(),
		pageSize: citekey.DefaultPageSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current listing state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) begin(ctx context.Context) (uint64, context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cancel != nil {
		o.cancel()
	}
	o.gen++
	o.cancel = cancel
	o.state = Detecting
	return o.gen, ctx
}

// transition moves to s unless gen has been superseded. It reports
// whether gen is still current.
func (o *Orchestrator) transition(gen uint64, s State) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return false
	}
	o.state = s
	return true
}

func (o *Orchestrator) finish(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen {
		return
	}
	o.cancel()
	o.cancel = nil
	o.state = Idle
}

// Candidates runs det over prefix, the line text up to the cursor. When
// no citation command is open it returns nil without touching the store.
// Otherwise it drains the key source into one candidate per key. A store
// failure yields an empty list together with the error, for the caller to
// report; a listing overtaken by a newer call returns ErrSuperseded.
func (o *Orchestrator) Candidates(ctx context.Context, det trigger.Detector, prefix string) ([]Candidate, error) {
	gen, lctx := o.begin(ctx)
	defer o.finish(gen)

	if m := det.Detect(prefix); !m.Matched {
		o.transition(gen, NoMatch)
		return nil, nil
	}
	if !o.transition(gen, Listing) {
		return nil, ErrSuperseded
	}

	it := o.src.Stream(lctx, o.pageSize)
	defer it.Close()
	cands := []Candidate{}
	filterErrs := 0
	for it.Next() {
		k := it.Key()
		ok, err := o.filter.Match(k)
		if err != nil {
			if filterErrs == 0 {
				o.log.Warn("citation key filter failed", "key", k.Key, "filter", o.filter.String(), "error", err)
			}
			filterErrs++
			continue
		}
		if ok {
			cands = append(cands, Candidate{Key: k})
		}
	}
	if filterErrs > 1 {
		o.log.Warn("citation key filter failed on more keys", "filter", o.filter.String(), "count", filterErrs)
	}
	err := it.Err()
	if !o.transition(gen, Listing) {
		return nil, ErrSuperseded
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.log.Warn("listing citation keys failed", "error", err)
		return []Candidate{}, err
	}
	o.log.Debug("listed citation keys", "count", len(cands))
	return cands, nil
}

// Resolve exports the single candidate c as BibTeX and attaches it as
// documentation. Any failure returns c unresolved.
func (o *Orchestrator) Resolve(ctx context.Context, c Candidate) Candidate {
	if c.Resolved {
		return c
	}
	text, err := o.svc.ExportItems(ctx, []string{c.Key.Key}, bbt.BibTeX, nil)
	if err != nil {
		o.logResolveError(c.Key.Key, err)
		return c
	}
	c.Documentation = BibTeXDocumentation(text)
	c.Resolved = true
	return c
}

func (o *Orchestrator) logResolveError(key string, err error) {
	var re *jsonrpc.RemoteError
	switch {
	case errors.As(err, &re):
		o.log.Warn("Better BibTeX could not export item", "key", key, "code", re.Code, "message", re.Message)
	case errors.Is(err, jsonrpc.ErrTransport):
		o.log.Warn("Better BibTeX unreachable", "key", key, "error", err)
	case errors.Is(err, jsonrpc.ErrMalformedResponse), errors.Is(err, bbt.ErrSchemaMismatch):
		o.log.Error("incompatible Better BibTeX response", "key", key, "error", err)
	default:
		o.log.Warn("resolving citation key failed", "key", key, "error", err)
	}
}

// BibTeXDocumentation wraps exported text in a markdown bibtex block.
func BibTeXDocumentation(text string) string {
	return "```bibtex\n" + text + "\n```"
}
