package main

import (
	"github.com/aceeric/offliner/impl/cmdline"
	"github.com/aceeric/offliner/impl/config"
)

// getCfg builds the global configuration and returns the sub-command to run. Without
// '--config-file' the parsed command line, defaults included, is the whole configuration.
// With it, the file is loaded first and the command line is merged over it: options the
// user typed win, defaults only fill what the file left empty. TLS, S3 and the declared
// resources can only come from the file.
func getCfg() (string, error) {
	fromCmdline, parsed, err := cmdline.Parse()
	if err != nil {
		return "", err
	}
	if !fromCmdline.ConfigFile {
		config.Set(parsed)
		return fromCmdline.Command, nil
	}
	if err := config.Load(parsed.ConfigFile); err != nil {
		return "", err
	}
	config.Merge(fromCmdline, parsed)
	return fromCmdline.Command, nil
}
