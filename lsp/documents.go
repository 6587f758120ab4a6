package lsp

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/signadot/zotero-ls/trigger"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
)

type documentStore struct {
	mu   sync.RWMutex
	docs map[string]*document
}

// document is an open text document. The detector is selected once, when
// the document is opened; detectErr records an unsupported filetype.
type document struct {
	uri       string
	text      string
	version   int32
	filetype  string
	detector  trigger.Detector
	detectErr error
}

func newDocumentStore() *documentStore {
	return &documentStore{docs: make(map[string]*document)}
}

func (ds *documentStore) get(uri string) *document {
	ds.mu.RLock()
	defer ds.mu.RUnlock()
	return ds.docs[uri]
}

func (ds *documentStore) open(docURI protocol.DocumentURI, languageID, text string, version int32) *document {
	doc := &document{uri: string(docURI), text: text, version: version}
	doc.filetype, doc.detectErr = filetypeOf(docURI, languageID)
	if doc.detectErr == nil {
		doc.detector, doc.detectErr = trigger.ForFiletype(doc.filetype)
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.docs[doc.uri] = doc
	return doc
}

// update replaces the text of an open document. Documents are synced in
// full, so every change carries the complete text.
func (ds *documentStore) update(uri, text string, version int32) bool {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	doc := ds.docs[uri]
	if doc == nil {
		return false
	}
	next := *doc
	next.text = text
	next.version = version
	ds.docs[uri] = &next
	return true
}

func (ds *documentStore) remove(uri string) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.docs, uri)
}

// filetypeOf prefers the language id sent by the editor and falls back to
// the file extension.
func filetypeOf(docURI protocol.DocumentURI, languageID string) (string, error) {
	ft, err := trigger.FiletypeFromLanguageID(languageID)
	if err == nil {
		return ft, nil
	}
	if !strings.HasPrefix(string(docURI), uri.FileScheme+"://") {
		return "", err
	}
	ext := filepath.Ext(uri.URI(docURI).Filename())
	if ext == "" {
		return "", err
	}
	return trigger.FiletypeFromExtension(ext)
}

// line returns line n of text without its line terminator.
func line(text string, n int) string {
	for i := 0; i < n; i++ {
		j := strings.IndexByte(text, '\n')
		if j < 0 {
			return ""
		}
		text = text[j+1:]
	}
	if j := strings.IndexByte(text, '\n'); j >= 0 {
		text = text[:j]
	}
	return strings.TrimSuffix(text, "\r")
}

// byteOffset converts a UTF-16 column into a byte offset in s, clamped to
// len(s).
func byteOffset(s string, col int) int {
	units := 0
	for i, r := range s {
		if units >= col {
			return i
		}
		units += utf16.RuneLen(r)
	}
	return len(s)
}

// prefix returns the text of the cursor's line up to the cursor.
func (d *document) prefix(pos protocol.Position) string {
	l := line(d.text, int(pos.Line))
	return l[:byteOffset(l, int(pos.Character))]
}

func (s *Server) DidOpen(ctx context.Context, params *protocol.DidOpenTextDocumentParams) error {
	td := params.TextDocument
	doc := s.docs.open(td.URI, string(td.LanguageID), td.Text, td.Version)
	if doc.detectErr != nil {
		s.log.Debug("no citation completion for document", "uri", doc.uri, "error", doc.detectErr)
	}
	return nil
}

func (s *Server) DidChange(ctx context.Context, params *protocol.DidChangeTextDocumentParams) error {
	if len(params.ContentChanges) == 0 {
		return nil
	}
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	if !s.docs.update(string(params.TextDocument.URI), text, params.TextDocument.Version) {
		s.log.Debug("change for unknown document", "uri", params.TextDocument.URI)
	}
	return nil
}

func (s *Server) DidClose(ctx context.Context, params *protocol.DidCloseTextDocumentParams) error {
	s.docs.remove(string(params.TextDocument.URI))
	return nil
}
