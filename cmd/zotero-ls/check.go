package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/scott-cotton/cli"
	"github.com/signadot/zotero-ls/bbt"
	"github.com/signadot/zotero-ls/citekey"
	"github.com/signadot/zotero-ls/config"
	"golang.org/x/sync/errgroup"
)

type CheckConfig struct {
	*MainConfig
	Check  *cli.Command
	Zotero string `cli:"name=zotero desc='Zotero data directory'"`
	JurisM bool   `cli:"name=jurism desc='talk to the Juris-M port of Better BibTeX'"`
}

const checkTimeout = 10 * time.Second

type checkResult struct {
	name   string
	detail string
	err    error
}

func check(cfg *CheckConfig, cc *cli.Context, args []string) error {
	if _, err := cfg.Check.Parse(cc, args); err != nil {
		return err
	}
	opts, err := cfg.options()
	if err != nil {
		return err
	}
	if err := applyOverrides(opts, cfg.Zotero, cfg.JurisM); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()

	results := make([]checkResult, 2)
	var g errgroup.Group
	g.Go(func() error {
		results[0] = checkDatabase(ctx, opts)
		return results[0].err
	})
	g.Go(func() error {
		results[1] = checkService(ctx, opts)
		return results[1].err
	})
	g.Wait()

	printResults(cc.Out, results)
	var errs []error
	for _, r := range results {
		if r.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.name, r.err))
		}
	}
	return errors.Join(errs...)
}

func checkDatabase(ctx context.Context, opts *config.Options) checkResult {
	res := checkResult{name: "database"}
	if err := opts.CheckDatabase(); err != nil {
		res.err = err
		return res
	}
	db, err := citekey.OpenDatabase(opts.DatabasePath())
	if err != nil {
		res.err = err
		return res
	}
	defer db.Close()
	n := 0
	for _, err := range citekey.NewSource(db, nil).Keys(ctx, opts.PageSize) {
		if err != nil {
			res.err = err
			return res
		}
		n++
	}
	res.detail = fmt.Sprintf("%s: %d citation keys", db.Path(), n)
	return res
}

func checkService(ctx context.Context, opts *config.Options) checkResult {
	res := checkResult{name: "Better BibTeX"}
	client, err := bbt.Dial(opts, nil)
	if err != nil {
		res.err = err
		return res
	}
	defer client.Close()
	st, err := client.IsReady(ctx)
	if err != nil {
		res.err = err
		return res
	}
	res.detail = fmt.Sprintf("%s: Better BibTeX %s, Zotero %s", opts.ServiceURL(), st.BetterBibTeX, st.Zotero)
	return res
}

func printResults(w io.Writer, results []checkResult) {
	ok := color.New(color.FgGreen, color.Bold)
	fail := color.New(color.FgRed, color.Bold)
	if f, isFile := w.(*os.File); !isFile || !isatty.IsTerminal(f.Fd()) {
		ok.DisableColor()
		fail.DisableColor()
	}
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(w, "%s %s: %v\n", fail.Sprint("FAIL"), r.name, r.err)
			continue
		}
		fmt.Fprintf(w, "%s %s: %s\n", ok.Sprint("ok  "), r.name, r.detail)
	}
}
