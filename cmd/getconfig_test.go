package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aceeric/offliner/impl/cmdline"
	"github.com/aceeric/offliner/impl/config"
)

var cfgYaml = `
---
logLevel: error
name: fromfile
port: 8080
upstream: https://file.example.com
store:
  type: redis
  redisUrl: redis://localhost:6379/0
update:
  enabled: true
  period: 1h
  versionUrl: https://file.example.com/version.json
resources:
  - /index.html
`

// Test that the command line configuration is correctly merged into config from
// a file.
func TestCmdlineOverridesConfig(t *testing.T) {
	cmdline.ClearParse()
	td, err := os.MkdirTemp("", "")
	if err != nil {
		t.Fail()
	}
	defer os.RemoveAll(td)
	cfgFile := filepath.Join(td, "testcfg.yaml")
	os.WriteFile(cfgFile, []byte(cfgYaml), 0700)
	os.Args = []string{"bin/offliner", "--log-level", "info", "--config-file", cfgFile, "--store", "memory",
		"serve", "--port", "22", "--upstream", "http://localhost:9999", "--update-period", "5m"}

	command, err := getCfg()
	if err != nil {
		t.FailNow()
	}
	switch {
	case command != "serve":
		t.Fail()
	case config.GetLogLevel() != "info":
		t.Fail()
	case config.GetConfigFile() != cfgFile:
		t.Fail()
	case config.GetPort() != 22:
		t.Fail()
	case config.GetUpstream() != "http://localhost:9999":
		t.Fail()
	case config.GetStore().Type != "memory":
		t.Fail()
	case config.GetUpdate().Period != "5m":
		t.Fail()
	}
	// not on the command line so the file wins
	switch {
	case config.GetName() != "fromfile":
		t.Fail()
	case config.GetStore().RedisUrl != "redis://localhost:6379/0":
		t.Fail()
	case !config.GetUpdate().Enabled:
		t.Fail()
	case config.GetUpdate().VersionUrl != "https://file.example.com/version.json":
		t.Fail()
	case len(config.GetResources()) != 1:
		t.Fail()
	}
}

// Without a config file the parsed command line is the configuration
func TestCmdlineOnly(t *testing.T) {
	cmdline.ClearParse()
	os.Args = []string{"bin/offliner", "--store", "memory", "list", "--header"}
	command, err := getCfg()
	if err != nil || command != "list" {
		t.FailNow()
	}
	if config.GetStore().Type != "memory" || !config.GetListConfig().Header || config.GetConfigFile() != "" {
		t.Fail()
	}
}
