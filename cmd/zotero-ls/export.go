package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/scott-cotton/cli"
	"github.com/signadot/zotero-ls/bbt"
	"github.com/signadot/zotero-ls/jsonrpc"
)

type ExportConfig struct {
	*MainConfig
	Export     *cli.Command
	Zotero     string `cli:"name=zotero desc='Zotero data directory'"`
	JurisM     bool   `cli:"name=jurism desc='talk to the Juris-M port of Better BibTeX'"`
	Translator string `cli:"name=t aliases=translator desc='export format'"`
	Library    string `cli:"name=library desc='library id the keys belong to'"`
}

func export(cfg *ExportConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Export.Parse(cc, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return fmt.Errorf("%w: export needs at least one citation key", cli.ErrUsage)
	}
	tr, err := bbt.ParseTranslator(cfg.Translator)
	if err != nil {
		return fmt.Errorf("%w: %w", cli.ErrUsage, err)
	}
	opts, err := cfg.options()
	if err != nil {
		return err
	}
	if err := applyOverrides(opts, cfg.Zotero, cfg.JurisM); err != nil {
		return err
	}
	var libraryID *string
	if cfg.Library != "" {
		libraryID = &cfg.Library
	}

	client, err := bbt.Dial(opts, nil)
	if err != nil {
		return err
	}
	defer client.Close()
	text, err := client.ExportItems(context.Background(), args, tr, libraryID)
	if err != nil {
		var re *jsonrpc.RemoteError
		if errors.As(err, &re) {
			return fmt.Errorf("Better BibTeX: %w", re)
		}
		return err
	}
	_, err = io.WriteString(cc.Out, text)
	return err
}
