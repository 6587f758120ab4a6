package main

import (
	"context"
	"fmt"

	"github.com/scott-cotton/cli"
	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/complete"
)

type KeysConfig struct {
	*MainConfig
	Keys   *cli.Command
	Zotero string `cli:"name=zotero desc='Zotero data directory'"`
	Page   int    `cli:"name=page desc='citation keys fetched per batch'"`
	Filter string `cli:"name=filter desc='expression over key, itemKey and libraryID selecting keys'"`
	Long   bool   `cli:"name=l desc='also print item keys and library ids'"`
}

func keys(cfg *KeysConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Keys.Parse(cc, args); err != nil {
		return err
	}
	opts, err := cfg.options()
	if err != nil {
		return err
	}
	if err := applyOverrides(opts, cfg.Zotero, false); err != nil {
		return err
	}
	if cfg.Page != 0 {
		opts.PageSize = cfg.Page
	}
	if cfg.Filter != "" {
		opts.Filter = cfg.Filter
	}
	filter, err := complete.CompileFilter(opts.Filter)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	if err := opts.CheckDatabase(); err != nil {
		return err
	}
	db, err := citekey.OpenDatabase(opts.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	for k, err := range citekey.NewSource(db, nil).Keys(context.Background(), opts.PageSize) {
		if err != nil {
			return err
		}
		ok, err := filter.Match(k)
		if err != nil {
			return fmt.Errorf("filter %q on %s: %w", filter, k.Key, err)
		}
		if !ok {
			continue
		}
		if cfg.Long {
			fmt.Fprintf(cc.Out, "%s\t%s\t%d\n", k.Key, k.ItemKey, k.LibraryID)
			continue
		}
		fmt.Fprintln(cc.Out, k.Key)
	}
	return nil
}
