package complete

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/signadot/zotero-ls/citekey"
)

// Filter selects citation keys with a boolean expression over the
// variables key, itemKey and libraryID, for example
//
//	libraryID == 1 && !(key startsWith "tmp")
type Filter struct {
	src  string
	prog *vm.Program
}

func filterEnv(k citekey.CitationKey) map[string]any {
	return map[string]any{
		"key":       k.Key,
		"itemKey":   k.ItemKey,
		"libraryID": int(k.LibraryID),
	}
}

// CompileFilter type-checks src. An empty src yields a nil Filter, which
// matches every key.
func CompileFilter(src string) (*Filter, error) {
	if src == "" {
		return nil, nil
	}
	prog, err := expr.Compile(src, expr.Env(filterEnv(citekey.CitationKey{})), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("invalid filter %q: %w", src, err)
	}
	return &Filter{src: src, prog: prog}, nil
}

func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.src
}

// Match reports whether k passes the filter.
func (f *Filter) Match(k citekey.CitationKey) (bool, error) {
	if f == nil {
		return true, nil
	}
	out, err := expr.Run(f.prog, filterEnv(k))
	if err != nil {
		return false, err
	}
	b, _ := out.(bool)
	return b, nil
}
