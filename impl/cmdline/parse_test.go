package cmdline

import (
	"os"
	"path/filepath"
	"testing"
)

// Test that the parser detects when defaults are overridden on the command line for the serve command
func TestParseServe(t *testing.T) {
	ClearParse()
	td, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fail()
	}
	defer os.RemoveAll(td)
	afile := filepath.Join(td, "foo")
	os.WriteFile(afile, []byte("foo"), 0755)

	os.Args = []string{"bin/offliner", "--store", "memory", "--log-level", "info", "--config-file", afile, "--name", "app",
		"serve", "--port", "22", "--upstream", "http://localhost:9999", "--fetch-timeout", "123", "--update",
		"--update-period", "5m", "--notify", "local", "--trigger-file", afile, "--reclaim-own-only"}
	fromCmdline, cfg, err := Parse()
	if err != nil {
		t.FailNow()
	}
	if fromCmdline.Command != "serve" {
		t.Fail()
	}
	switch {
	case !fromCmdline.LogLevel:
		t.Fail()
	case !fromCmdline.ConfigFile:
		t.Fail()
	case !fromCmdline.StoreType:
		t.Fail()
	case !fromCmdline.Name:
		t.Fail()
	case !fromCmdline.Port:
		t.Fail()
	case !fromCmdline.Upstream:
		t.Fail()
	case !fromCmdline.FetchTimeout:
		t.Fail()
	case !fromCmdline.UpdateEnabled:
		t.Fail()
	case !fromCmdline.UpdatePeriod:
		t.Fail()
	case !fromCmdline.NotifyType:
		t.Fail()
	case !fromCmdline.TriggerFile:
		t.Fail()
	case !fromCmdline.ReclaimOwnOnly:
		t.Fail()
	}
	if cfg.Port != 22 || cfg.Update.Period != "5m" || !cfg.Update.Enabled || cfg.Name != "app" || cfg.Store.Type != "memory" {
		t.Fail()
	}
}

// Test that defaults are present when nothing is overridden
func TestParseDefaults(t *testing.T) {
	ClearParse()
	os.Args = []string{"bin/offliner", "serve"}
	fromCmdline, cfg, err := Parse()
	if err != nil || fromCmdline.Command != "serve" {
		t.FailNow()
	}
	if fromCmdline.Port || fromCmdline.UpdatePeriod {
		t.Fail()
	}
	if cfg.Port != 8080 || cfg.Update.Period != "1h" || cfg.Store.Type != "badger" || cfg.Notify.Type != "direct" {
		t.Fail()
	}
}

// Test the sub-commands that run without a server
func TestParseOffline(t *testing.T) {
	for _, cmd := range []string{"prefetch", "update", "activate", "version"} {
		ClearParse()
		os.Args = []string{"bin/offliner", cmd}
		fromCmdline, _, err := Parse()
		if err != nil || fromCmdline.Command != cmd {
			t.Errorf("command %s: %v", cmd, err)
		}
	}
	ClearParse()
	os.Args = []string{"bin/offliner", "prefetch", "--resource-file", "/tmp/resources.txt"}
	fromCmdline, cfg, err := Parse()
	if err != nil || !fromCmdline.ResourceFile || cfg.ResourceFile != "/tmp/resources.txt" {
		t.Fail()
	}
	ClearParse()
	os.Args = []string{"bin/offliner", "list", "--header"}
	fromCmdline, cfg, err = Parse()
	if err != nil || fromCmdline.Command != "list" || !fromCmdline.ListConfig || !cfg.ListConfig.Header {
		t.Fail()
	}
}

// Test validators
func TestParseInvalid(t *testing.T) {
	tests := [][]string{
		{"bin/offliner", "--store", "floppy", "serve"},
		{"bin/offliner", "--log-level", "loud", "serve"},
		{"bin/offliner", "--config-file", "/no/such/file", "serve"},
		{"bin/offliner", "serve", "--notify", "carrier-pigeon"},
	}
	for _, args := range tests {
		ClearParse()
		os.Args = args
		if _, _, err := Parse(); err == nil {
			t.Errorf("expected error for %v", args)
		}
	}
}
