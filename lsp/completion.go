package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/complete"
	"go.lsp.dev/protocol"
)

// commitCharacters close the citation command.
var commitCharacters = []string{"}"}

// itemData travels with each completion item so that resolve knows the
// key it was built from.
type itemData struct {
	Key       string `json:"key"`
	ItemKey   string `json:"itemKey"`
	LibraryID int64  `json:"libraryID"`
}

func emptyList() *protocol.CompletionList {
	return &protocol.CompletionList{Items: []protocol.CompletionItem{}}
}

func (s *Server) Completion(ctx context.Context, params *protocol.CompletionParams) (*protocol.CompletionList, error) {
	sess := s.session()
	if sess == nil {
		return nil, errNotInitialized
	}
	doc := s.docs.get(string(params.TextDocument.URI))
	if doc == nil || doc.detectErr != nil {
		return emptyList(), nil
	}

	cands, err := sess.Orchestrator.Candidates(ctx, doc.detector, doc.prefix(params.Position))
	switch {
	case errors.Is(err, complete.ErrSuperseded):
		return &protocol.CompletionList{IsIncomplete: true, Items: []protocol.CompletionItem{}}, nil
	case errors.Is(err, context.Canceled):
		return nil, err
	case err != nil:
		s.logMessage(ctx, protocol.MessageTypeWarning, fmt.Sprintf("%s: listing citation keys failed: %v", Name, err))
		return emptyList(), nil
	}

	items := make([]protocol.CompletionItem, 0, len(cands))
	for _, c := range cands {
		items = append(items, completionItem(c))
	}
	return &protocol.CompletionList{Items: items}, nil
}

func completionItem(c complete.Candidate) protocol.CompletionItem {
	item := protocol.CompletionItem{
		Label:            c.Label(),
		Kind:             protocol.CompletionItemKindReference,
		CommitCharacters: commitCharacters,
		Data:             itemData{Key: c.Key.Key, ItemKey: c.Key.ItemKey, LibraryID: c.Key.LibraryID},
	}
	if c.Resolved {
		item.Documentation = protocol.MarkupContent{Kind: protocol.Markdown, Value: c.Documentation}
	}
	return item
}

// candidateOf rebuilds the candidate an item was made from. Editors send
// Data back as decoded JSON, so it is re-encoded and decoded.
func candidateOf(item *protocol.CompletionItem) complete.Candidate {
	var data itemData
	if item.Data != nil {
		if raw, err := json.Marshal(item.Data); err == nil {
			_ = json.Unmarshal(raw, &data)
		}
	}
	if data.Key == "" {
		data.Key = item.Label
	}
	return complete.Candidate{Key: citekey.CitationKey{Key: data.Key, ItemKey: data.ItemKey, LibraryID: data.LibraryID}}
}

// CompletionResolve attaches the BibTeX export of the item's key as its
// documentation. A failed export leaves the item as it was.
func (s *Server) CompletionResolve(ctx context.Context, params *protocol.CompletionItem) (*protocol.CompletionItem, error) {
	sess := s.session()
	if sess == nil {
		return nil, errNotInitialized
	}
	c := sess.Orchestrator.Resolve(ctx, candidateOf(params))
	item := *params
	if c.Resolved {
		item.Documentation = protocol.MarkupContent{Kind: protocol.Markdown, Value: c.Documentation}
	}
	return &item, nil
}
