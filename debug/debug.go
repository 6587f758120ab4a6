package debug

import (
	"os"
	"strconv"
)

type debug struct {
	RPC     bool
	Store   bool
	Trigger bool
}

var d *debug

func init() {
	d = &debug{}
	d.RPC = boolEnv("ZOTERO_LS_DEBUG_RPC")
	d.Store = boolEnv("ZOTERO_LS_DEBUG_STORE")
	d.Trigger = boolEnv("ZOTERO_LS_DEBUG_TRIGGER")
}

func boolEnv(v string) bool {
	x := os.Getenv(v)
	if x == "" {
		return false
	}
	b, _ := strconv.ParseBool(x)
	return b
}

// RPC reports whether JSON-RPC envelopes exchanged with Better BibTeX are logged.
func RPC() bool {
	return d.RPC
}

// Store reports whether citation key batches are logged.
func Store() bool {
	return d.Store
}

// Trigger reports whether trigger detection results are logged.
func Trigger() bool {
	return d.Trigger
}
