package lsp

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/signadot/zotero-ls/bbt"
	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/complete"
	"github.com/signadot/zotero-ls/config"
)

// Session owns the resources of one editor session: the citation key
// database, the Better BibTeX client and the orchestrator built on them.
// It is created on initialize and closed on shutdown.
type Session struct {
	Options      *config.Options
	DB           *citekey.Database
	BBT          *bbt.Client
	Orchestrator *complete.Orchestrator

	closeOnce sync.Once
	closeErr  error
}

// OpenSession checks that the Better BibTeX database exists and prepares
// the store and the service client. Neither is contacted yet.
func OpenSession(opts *config.Options, log *slog.Logger) (*Session, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := opts.CheckDatabase(); err != nil {
		return nil, err
	}
	filter, err := complete.CompileFilter(opts.Filter)
	if err != nil {
		return nil, err
	}
	db, err := citekey.OpenDatabase(opts.DatabasePath())
	if err != nil {
		return nil, err
	}
	client, err := bbt.Dial(opts, log)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set up Better BibTeX client: %w", err)
	}
	orch := complete.New(citekey.NewSource(db, log), client,
		complete.WithLogger(log),
		complete.WithPageSize(opts.PageSize),
		complete.WithFilter(filter))
	return &Session{Options: opts, DB: db, BBT: client, Orchestrator: orch}, nil
}

// Close closes the Better BibTeX client, waiting for its in-flight calls,
// and then the database. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.BBT.Close(), s.DB.Close())
	})
	return s.closeErr
}
