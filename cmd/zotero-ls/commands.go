package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/scott-cotton/cli"
	"github.com/signadot/zotero-ls/config"
)

type MainConfig struct {
	V      int    `cli:"name=v desc='log verbosity: 0 warnings, 1 info, 2 debug'"`
	Config string `cli:"name=config desc='configuration file (default $XDG_CONFIG_HOME/zotero-ls/config.yaml)'"`

	Main *cli.Command
}

// options loads the configuration file selected by -config.
func (cfg *MainConfig) options() (*config.Options, error) {
	return config.Load(cfg.Config)
}

func MainCommand() *cli.Command {
	cfg := &MainConfig{}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Main, "zotero-ls").
		WithSynopsis("zotero-ls [opts] command [opts]").
		WithDescription("zotero-ls is a language server completing citation keys from Zotero's Better BibTeX.").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return zlsMain(cfg, cc, args)
		}).
		WithSubs(
			ServeCommand(cfg),
			CheckCommand(cfg),
			KeysCommand(cfg),
			ExportCommand(cfg))
}

func zlsMain(cfg *MainConfig, cc *cli.Context, args []string) error {
	args, err := cfg.Main.Parse(cc, args)
	if err != nil {
		return err
	}
	setupLog(cfg.V)
	if len(args) == 0 {
		return cli.ErrNoCommandProvided
	}
	sub := cfg.Main.FindSub(cc, args[0])
	if sub == nil {
		return fmt.Errorf("%w: %q not found", cli.ErrNoSuchCommand, args[0])
	}
	err = sub.Run(cc, args[1:])
	if errors.Is(err, cli.ErrUsage) {
		sub.Usage(cc, err)
		os.Exit(sub.Exit(cc, err))
	}
	return err
}

func ServeCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ServeConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Serve, "serve").
		WithAliases("s").
		WithSynopsis("serve [-gops]").
		WithDescription("serve the language server protocol on stdin and stdout").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return serve(cfg, cc, args)
		})
}

func CheckCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &CheckConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Check, "check").
		WithSynopsis("check [-zotero dir]").
		WithDescription("check that the Better BibTeX database and service are available").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return check(cfg, cc, args)
		})
}

func KeysCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &KeysConfig{MainConfig: mainCfg}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Keys, "keys").
		WithAliases("k").
		WithSynopsis("keys [-page n] [-filter expr]").
		WithDescription("list the citation keys known to Better BibTeX").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return keys(cfg, cc, args)
		})
}

func ExportCommand(mainCfg *MainConfig) *cli.Command {
	cfg := &ExportConfig{MainConfig: mainCfg, Translator: "bibtex"}
	opts, err := cli.StructOpts(cfg)
	if err != nil {
		panic(err)
	}
	return cli.NewCommandAt(&cfg.Export, "export").
		WithAliases("x").
		WithSynopsis("export [-t translator] [-library id] key...").
		WithDescription("export items through Better BibTeX; translators are bibtex, biblatex, citekey, csl-json, csl-yaml and json").
		WithOpts(opts...).
		WithRun(func(cc *cli.Context, args []string) error {
			return export(cfg, cc, args)
		})
}
