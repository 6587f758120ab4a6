package main

import "github.com/signadot/zotero-ls/config"

// applyOverrides applies the -zotero and -jurism options of the one-shot
// commands over the configuration file.
func applyOverrides(opts *config.Options, zoteroDir string, jurisM bool) error {
	if zoteroDir != "" {
		opts.ZoteroDir = zoteroDir
	}
	if jurisM {
		opts.JurisM = true
	}
	return opts.Validate()
}
