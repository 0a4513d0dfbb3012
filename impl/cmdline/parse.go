package cmdline

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/aceeric/offliner/impl/config"

	"github.com/urfave/cli/v3"
)

// fromCmdline will be populated with flags indicating which configuration settings were
// specified on the command line.
var fromCmdline config.FromCmdLine

// cfg has the parsed configuration - including defaults (e.g. port) if the user does not override
var cfg = config.Configuration{}

// updatePeriod holds the --update-period value. The configuration type is 'any' because
// the config file may carry a number of milliseconds.
var updatePeriod string

var validStores = []string{"memory", "badger", "redis", "s3"}

var validNotifiers = []string{"direct", "local", "redis", "nats"}

func fileValidator(path string) error {
	if fi, err := os.Stat(path); err != nil {
		return fmt.Errorf("file not found")
	} else if fi.IsDir() {
		return fmt.Errorf("not a file")
	}
	return nil
}

func oneOf(valid []string) func(string) error {
	return func(val string) error {
		if !slices.Contains(valid, strings.ToLower(val)) {
			return fmt.Errorf("must be one of %s", strings.Join(valid, ", "))
		}
		return nil
	}
}

// upstreamFlags are shared by every command that fetches from the upstream
func upstreamFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "upstream",
			Usage:       "The origin that resources are fetched from, e.g. 'https://app.example.com'",
			Destination: &cfg.Upstream,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.Upstream = true
				return nil
			},
		},
		&cli.IntFlag{
			Name:        "fetch-timeout",
			Value:       30000,
			Usage:       "The max time to fetch a resource from the upstream in milliseconds",
			Destination: &cfg.FetchTimeout,
			Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
				fromCmdline.FetchTimeout = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "version-url",
			Usage:       "A URL that returns the current release version of the upstream",
			Destination: &cfg.Update.VersionUrl,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.VersionUrl = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "resource-file",
			Usage:       "A file listing resources to prefetch, one per line",
			Destination: &cfg.ResourceFile,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.ResourceFile = true
				return nil
			},
		},
	}
}

// cmds is for the command line parser urfave/cli
var cmds = &cli.Command{
	Name:  "offliner",
	Usage: "an offline-first caching server with versioned cache generations",
	// define this or the parser terminates the program
	ExitErrHandler: func(_ context.Context, _ *cli.Command, _ error) {},
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Value:       "error",
			Usage:       "Sets the minimum value for logging: debug, warn, info, or error",
			Destination: &cfg.LogLevel,
			Validator:   oneOf([]string{"debug", "warn", "info", "error"}),
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.LogLevel = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "config-file",
			Usage:       "A file to load configuration values from (cmdline overrides file settings)",
			Destination: &cfg.ConfigFile,
			Validator:   fileValidator,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.ConfigFile = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "log-file",
			Value:       "",
			Usage:       "log to the specified file rather than the console",
			Destination: &cfg.LogFile,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.LogFile = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "name",
			Value:       "",
			Usage:       "Instance name. Named instances keep their own configuration and generations in a shared store",
			Destination: &cfg.Name,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.Name = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "store",
			Value:       "badger",
			Usage:       "The blob store backend: memory, badger, redis, or s3",
			Destination: &cfg.Store.Type,
			Validator:   oneOf(validStores),
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.StoreType = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "store-path",
			Value:       "/var/lib/offliner",
			Usage:       "The directory for the badger store",
			Destination: &cfg.Store.Path,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.StorePath = true
				return nil
			},
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Usage:       "The redis URL for the redis store, e.g. 'redis://localhost:6379/0'",
			Destination: &cfg.Store.RedisUrl,
			Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
				fromCmdline.RedisUrl = true
				return nil
			},
		},
	},
	Commands: []*cli.Command{
		{
			Name:  "serve",
			Usage: "Runs the server",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "serve"
				return nil
			},
			Flags: append(upstreamFlags(),
				&cli.IntFlag{
					Name:        "port",
					Value:       8080,
					Usage:       "The port to serve on",
					Destination: &cfg.Port,
					Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
						fromCmdline.Port = true
						return nil
					},
				},
				&cli.IntFlag{
					Name:        "metrics",
					Value:       0,
					Usage:       "Exposes Prometheus metrics on the port, if non-zero",
					Destination: &cfg.Metrics,
					Action: func(ctx context.Context, cmd *cli.Command, _ int64) error {
						fromCmdline.Metrics = true
						return nil
					},
				},
				&cli.BoolFlag{
					Name:        "update",
					Value:       false,
					Usage:       "Enables the background update check",
					Destination: &cfg.Update.Enabled,
					Action: func(ctx context.Context, cmd *cli.Command, _ bool) error {
						fromCmdline.UpdateEnabled = true
						return nil
					},
				},
				&cli.StringFlag{
					Name:        "update-period",
					Value:       "1h",
					Usage:       "How often to check for updates: 'never', 'once', or a duration like '90s', '5m', '1h'",
					Destination: &updatePeriod,
					Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
						fromCmdline.UpdatePeriod = true
						return nil
					},
				},
				&cli.StringFlag{
					Name:        "trigger-file",
					Usage:       "A file that, when written, posts its contents ('update' or 'activate') to the server",
					Destination: &cfg.Update.TriggerFile,
					Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
						fromCmdline.TriggerFile = true
						return nil
					},
				},
				&cli.StringFlag{
					Name:        "notify",
					Value:       "direct",
					Usage:       "How activation events are delivered: direct, local, redis, or nats",
					Destination: &cfg.Notify.Type,
					Validator:   oneOf(validNotifiers),
					Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
						fromCmdline.NotifyType = true
						return nil
					},
				},
				&cli.StringFlag{
					Name:        "notify-url",
					Usage:       "The redis or nats server URL for broadcast notifications",
					Destination: &cfg.Notify.Url,
					Action: func(ctx context.Context, cmd *cli.Command, _ string) error {
						fromCmdline.NotifyUrl = true
						return nil
					},
				},
				&cli.BoolFlag{
					Name:        "reclaim-own-only",
					Value:       false,
					Usage:       "Only reclaim generations belonging to this instance name",
					Destination: &cfg.ReclaimOwnOnly,
					Action: func(ctx context.Context, cmd *cli.Command, _ bool) error {
						fromCmdline.ReclaimOwnOnly = true
						return nil
					},
				},
			),
		},
		{
			Name:  "prefetch",
			Usage: "Populates the initial cache generation from the configured resources (server should not be running)",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "prefetch"
				return nil
			},
			Flags: upstreamFlags(),
		},
		{
			Name:  "update",
			Usage: "Runs one update cycle, leaving a new generation pending activation (server should not be running)",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "update"
				return nil
			},
			Flags: upstreamFlags(),
		},
		{
			Name:  "activate",
			Usage: "Activates a pending generation (server should not be running)",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "activate"
				return nil
			},
		},
		{
			Name:  "list",
			Usage: "Lists the configuration keys and the cache generations in the store",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "list"
				return nil
			},
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:        "header",
					Value:       false,
					Usage:       "Displays a header line",
					Destination: &cfg.ListConfig.Header,
					Action: func(ctx context.Context, cmd *cli.Command, _ bool) error {
						fromCmdline.ListConfig = true
						return nil
					},
				},
			},
		},
		{
			Name:  "version",
			Usage: "Displays the version",
			Action: func(ctx context.Context, cmd *cli.Command) error {
				fromCmdline.Command = "version"
				return nil
			},
		},
	},
}

// Parse parses the command line. It returns the following:
//
//  1. A FromCmdLine struct which has the command to run ("serve", "list", etc.). If the command
//     is the empty string then no sub-command was specified in which case the parser auto-displays
//     help. This struct also has flags telling you which configuration values were provided by the
//     user on the command line.
//  2. A Configuration struct containing the parsed configuration values. For any configuration flag
//     in the FromCmdLine struct with a false value, the corresponding configuration value in *this*
//     struct will be the default.
//  3. An error, if the parser returned one, else nil.
func Parse() (config.FromCmdLine, config.Configuration, error) {
	if err := cmds.Run(context.Background(), os.Args); err != nil {
		return config.FromCmdLine{}, config.Configuration{}, err
	}
	if updatePeriod == "" {
		updatePeriod = "1h"
	}
	cfg.Update.Period = updatePeriod
	if cfg.Notify.Type == "" {
		cfg.Notify.Type = "direct"
	}
	return fromCmdline, cfg, nil
}

// ClearParse supports unit testing
func ClearParse() {
	fromCmdline = config.FromCmdLine{}
	cfg = config.Configuration{}
	updatePeriod = ""
}
