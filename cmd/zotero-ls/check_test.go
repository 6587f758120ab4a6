package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/config"
)

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []checkResult{
		{name: "database", detail: "3 citation keys"},
		{name: "Better BibTeX", err: errors.New("connection refused")},
	})
	want := "ok   database: 3 citation keys\nFAIL Better BibTeX: connection refused\n"
	if got := buf.String(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApplyOverrides(t *testing.T) {
	opts := config.DefaultOptions()
	if err := applyOverrides(opts, "/data/zotero", true); err != nil {
		t.Fatal(err)
	}
	if opts.ZoteroDir != "/data/zotero" || !opts.JurisM {
		t.Errorf("overrides not applied: %+v", opts)
	}
	if got := opts.ServiceURL(); got != config.JurisMURL {
		t.Errorf("service URL %q", got)
	}
}

func TestCheckDatabase(t *testing.T) {
	dir := t.TempDir()
	opts := config.DefaultOptions()
	opts.ZoteroDir = dir
	if res := checkDatabase(context.Background(), opts); res.err == nil {
		t.Fatal("expected an error for a missing database")
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, citekey.DatabaseFile))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	for _, stmt := range []string{
		`CREATE TABLE citationkey (itemID NOT NULL PRIMARY KEY, itemKey NOT NULL, libraryID NOT NULL, citationKey NOT NULL, pinned)`,
		`INSERT INTO citationkey VALUES (1, 'ABCD1234', 1, 'doe2020', 0), (2, 'EFGH5678', 1, 'lee2021', 0)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatal(err)
		}
	}
	res := checkDatabase(context.Background(), opts)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !strings.HasSuffix(res.detail, ": 2 citation keys") {
		t.Errorf("detail %q", res.detail)
	}
}
