// Package citekey streams the citation keys known to a Better BibTeX store.
package citekey

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/signadot/zotero-ls/debug"
)

// DefaultPageSize is the batch size used when a caller asks for a
// non-positive page size.
const DefaultPageSize = 200

// ErrStoreUnavailable wraps every failure to open or scan the store.
var ErrStoreUnavailable = errors.New("citation key store unavailable")

// CitationKey identifies one bibliographic item in a Zotero library.
type CitationKey struct {
	// Key is the citation key itself, such as doe2020.
	Key string
	// ItemKey is the Zotero item key.
	ItemKey   string
	LibraryID int64
}

// Connector opens scan sessions against a citation key store.
type Connector interface {
	Open(ctx context.Context) (Session, error)
}

// Session is a range scan over the store. Next returns at most limit keys
// following the previously returned batch; an empty batch ends the scan.
type Session interface {
	Next(ctx context.Context, limit int) ([]CitationKey, error)
	Close() error
}

// Source produces restartable sequences of citation keys from a Connector.
type Source struct {
	conn Connector
	log  *slog.Logger
}

// NewSource returns a Source reading from conn. If log is nil,
// slog.Default() is used.
func NewSource(conn Connector, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{conn: conn, log: log}
}

// Stream starts a new scan fetching pageSize keys per batch. No I/O
// happens until the first call to Next. Callers must Close the iterator
// if they stop before Next returns false.
func (s *Source) Stream(ctx context.Context, pageSize int) *Iterator {
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	return &Iterator{ctx: ctx, src: s, pageSize: pageSize}
}

// Keys is Stream as a range-over-func sequence. Breaking out of the loop
// releases the store session. Errors are yielded once, as the final element.
func (s *Source) Keys(ctx context.Context, pageSize int) iter.Seq2[CitationKey, error] {
	return func(yield func(CitationKey, error) bool) {
		it := s.Stream(ctx, pageSize)
		defer it.Close()
		for it.Next() {
			if !yield(it.Key(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(CitationKey{}, err)
		}
	}
}

// Iterator walks one scan of the store.
type Iterator struct {
	ctx      context.Context
	src      *Source
	pageSize int

	sess    Session
	buf     []CitationKey
	pos     int
	cur     CitationKey
	err     error
	done    bool
	batches int
}

// Next advances to the next key, fetching a new batch when needed. It
// returns false when the scan is exhausted, failed, or closed.
func (it *Iterator) Next() bool {
	if it.done {
		return false
	}
	if it.pos >= len(it.buf) {
		if !it.fill() {
			return false
		}
	}
	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

func (it *Iterator) fill() bool {
	if err := it.ctx.Err(); err != nil {
		it.fail(err)
		return false
	}
	if it.sess == nil {
		sess, err := it.src.conn.Open(it.ctx)
		if err != nil {
			it.fail(err)
			return false
		}
		it.sess = sess
	}
	batch, err := it.sess.Next(it.ctx, it.pageSize)
	if err != nil {
		it.fail(err)
		return false
	}
	it.batches++
	if debug.Store() {
		it.src.log.Debug("citation key batch", "batch", it.batches, "size", len(batch), "pageSize", it.pageSize)
	}
	if len(batch) == 0 {
		it.release()
		return false
	}
	it.buf, it.pos = batch, 0
	return true
}

func (it *Iterator) fail(err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		it.err = err
	} else {
		it.err = fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	it.release()
}

func (it *Iterator) release() {
	it.done = true
	it.buf = nil
	if it.sess == nil {
		return
	}
	if err := it.sess.Close(); err != nil {
		it.src.log.Warn("closing citation key session", "error", err)
	}
	it.sess = nil
}

// Key returns the key the last successful Next advanced to.
func (it *Iterator) Key() CitationKey {
	return it.cur
}

// Err returns the error that ended the scan, if any. Cancellation of the
// iterator's context is returned as is; store failures wrap
// ErrStoreUnavailable.
func (it *Iterator) Err() error {
	return it.err
}

// Close releases the store session. It is safe to call more than once
// and after the scan has ended.
func (it *Iterator) Close() error {
	it.release()
	return nil
}
