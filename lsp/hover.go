package lsp

import (
	"context"

	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/complete"
	"github.com/signadot/zotero-ls/trigger"
	"go.lsp.dev/protocol"
)

// Hover shows the BibTeX export of the citation key under the cursor.
func (s *Server) Hover(ctx context.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	sess := s.session()
	if sess == nil {
		return nil, errNotInitialized
	}
	doc := s.docs.get(string(params.TextDocument.URI))
	if doc == nil || doc.detectErr != nil {
		return nil, nil
	}

	l := line(doc.text, int(params.Position.Line))
	key, ok := trigger.KeyAt(l, byteOffset(l, int(params.Position.Character)))
	if !ok {
		return nil, nil
	}
	c := sess.Orchestrator.Resolve(ctx, complete.Candidate{Key: citekey.CitationKey{Key: key}})
	if !c.Resolved {
		return nil, nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.Markdown,
			Value: c.Documentation,
		},
	}, nil
}
