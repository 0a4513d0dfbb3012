package main

import (
	"fmt"
	"os"

	"github.com/aceeric/offliner/cmd/subcmd"
	"github.com/aceeric/offliner/impl/config"
	"github.com/aceeric/offliner/impl/globals"
)

var (
	buildVer string
	buildDtm string
)

func main() {
	command, err := getCfg()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	} else if command == "" {
		// the parser displayed help
		os.Exit(0)
	}
	globals.ConfigureLogging(config.GetLogLevel(), config.GetLogFile())

	switch command {
	case "serve":
		err = subcmd.Serve(buildVer, buildDtm)
	case "prefetch":
		err = subcmd.Prefetch()
	case "update":
		err = subcmd.Update()
	case "activate":
		err = subcmd.Activate()
	case "list":
		err = subcmd.List()
	case "version":
		fmt.Printf("offliner version: %s build date: %s\n", buildVer, buildDtm)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
