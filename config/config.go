// Package config holds the options of a zotero-ls session.
//
// Options come from three layers, later layers winning: built-in defaults,
// an optional YAML file, and the initializationOptions sent by the editor.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/goccy/go-yaml"
	"github.com/signadot/zotero-ls/citekey"
)

const (
	// ZoteroURL is the Better BibTeX JSON-RPC service of a Zotero instance.
	ZoteroURL = "http://127.0.0.1:23119/"
	// JurisMURL is the same service for the Juris-M fork of Zotero.
	JurisMURL = "http://127.0.0.1:24119/"
)

// Options configures a session. Field names follow the keys editors
// already send as initializationOptions.
type Options struct {
	// ZoteroDir is the Zotero data directory holding better-bibtex.sqlite.
	ZoteroDir string `json:"zotero_dir" yaml:"zotero_dir"`
	// JurisM selects the Juris-M port for the JSON-RPC service.
	JurisM bool `json:"juris_m" yaml:"juris_m"`
	// BaseURL overrides the JSON-RPC service location.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// PageSize is the number of citation keys fetched per store batch.
	PageSize int `json:"page_size" yaml:"page_size"`
	// Filter is an optional boolean expression over key, itemKey and
	// libraryID selecting which citation keys are offered.
	Filter string `json:"filter,omitempty" yaml:"filter,omitempty"`
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() *Options {
	dir := "~/Zotero"
	if home, err := os.UserHomeDir(); err == nil {
		dir = filepath.Join(home, "Zotero")
	}
	return &Options{
		ZoteroDir: dir,
		PageSize:  citekey.DefaultPageSize,
	}
}

// DefaultPath returns the location of the user configuration file.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "zotero-ls", "config.yaml")
}

// Load reads a YAML configuration file over the defaults. An empty path
// means DefaultPath, and a missing default file is not an error.
func Load(path string) (*Options, error) {
	opts := DefaultOptions()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
		if path == "" {
			return opts, nil
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return opts, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalWithOptions(data, opts, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return opts, nil
}

// Merge applies raw, a JSON object such as LSP initializationOptions, as
// a merge patch over o and returns the result. o is not modified. Unknown
// keys are rejected.
func (o *Options) Merge(raw json.RawMessage) (*Options, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		res := *o
		return &res, nil
	}
	base, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(base, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid initialization options: %w", err)
	}
	res := &Options{}
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(res); err != nil {
		return nil, fmt.Errorf("invalid initialization options: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return res, nil
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if o.ZoteroDir == "" {
		return errors.New("zotero_dir must not be empty")
	}
	if o.PageSize < 0 {
		return fmt.Errorf("page_size must not be negative, got %d", o.PageSize)
	}
	if o.BaseURL != "" {
		u, err := url.Parse(o.BaseURL)
		if err != nil {
			return fmt.Errorf("invalid base_url: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("invalid base_url %q: scheme must be http or https", o.BaseURL)
		}
	}
	return nil
}

// Dir returns ZoteroDir with a leading ~ expanded.
func (o *Options) Dir() string {
	dir := o.ZoteroDir
	if dir == "~" || strings.HasPrefix(dir, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, dir[1:])
		}
	}
	return dir
}

// DatabasePath returns the path of better-bibtex.sqlite.
func (o *Options) DatabasePath() string {
	return filepath.Join(o.Dir(), citekey.DatabaseFile)
}

// CheckDatabase verifies that the Better BibTeX database exists.
func (o *Options) CheckDatabase() error {
	fi, err := os.Stat(o.DatabasePath())
	if err != nil || !fi.Mode().IsRegular() {
		return fmt.Errorf("%s file not found in %s", citekey.DatabaseFile, o.Dir())
	}
	return nil
}

// ServiceURL returns the base URL of the Better BibTeX JSON-RPC service.
func (o *Options) ServiceURL() string {
	switch {
	case o.BaseURL != "":
		return o.BaseURL
	case o.JurisM:
		return JurisMURL
	default:
		return ZoteroURL
	}
}
