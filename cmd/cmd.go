// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// withCommon prepends the config and logging flags every command accepts.
func withCommon(flags ...cli.Flag) []cli.Flag {
	return append([]cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to configuration file (.toml, or .json settings)",
			Value:   DefaultConfigPath,
		},
		&cli.BoolFlag{
			Name:  "verbose",
			Usage: "Enable debug logging",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Minimum log level (debug, info, warn, error)",
			Value: "info",
		},
	}, flags...)
}

func sourceFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "source",
		Aliases: []string{"s"},
		Usage:   "Force the authoritative side (lhs or rhs) for every paired item",
	}
}

func outputFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
		},
	}
}

// initCommand creates the config file and history database
func initCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "Create config.toml and the history database",
		Flags: withCommon(
			&cli.StringFlag{
				Name:  "from-json",
				Usage: "Import a JSON settings document instead of writing the example config",
			},
		),
		Action: r.Init,
	}
}

// testServerCommand checks connectivity to both servers
func testServerCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "test-server",
		Usage:  "Check that both servers accept the configured API keys",
		Flags:  withCommon(),
		Action: r.TestServer,
	}
}

// usersCommand lists paired users
func usersCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "users",
		Usage:  "List users on both servers and whether they can be synced",
		Flags:  withCommon(outputFlags()...),
		Action: r.Users,
	}
}

// diffCommand plans a sync without writing
func diffCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "diff",
		Aliases: []string{"plan"},
		Usage:   "Show what a sync would change for one user",
		Flags: withCommon(
			&cli.StringFlag{
				Name:     "user",
				Aliases:  []string{"u"},
				Usage:    "User name or connect name",
				Required: true,
			},
			sourceFlag(),
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format: text, csv, json or md",
				Value:   "text",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the plan to this file",
			},
			&cli.BoolFlag{
				Name:  "export",
				Usage: "Write the plan to {user}_plan.{ext}",
			},
			&cli.BoolFlag{
				Name:  "curl",
				Usage: "Print the planned writes as curl commands",
			},
			&cli.BoolFlag{
				Name:  "show-key",
				Usage: "Include API keys in curl output",
			},
		),
		Action: r.Diff,
	}
}

func syncFlags() []cli.Flag {
	return []cli.Flag{
		sourceFlag(),
		&cli.BoolFlag{
			Name:    "dry-run",
			Aliases: []string{"n"},
			Usage:   "Plan only; nothing is written",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Users synced concurrently",
			Value: 2,
		},
	}
}

// syncCommand reconciles watch state
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Sync watch state for one user or every allowed user",
		Flags: withCommon(append(syncFlags(),
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "User name or connect name",
			},
			&cli.BoolFlag{
				Name:  "all",
				Usage: "Sync every user present on both servers and allowed by sync.users",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record the run",
			},
		)...),
		Action: r.Sync,
	}
}

// collectionCommand manages collections
func collectionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "collection",
		Usage: "Collection operations",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create a collection from media IDs on one server",
				Flags: withCommon(
					&cli.StringFlag{
						Name:     "side",
						Usage:    "Server to create the collection on (lhs or rhs)",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "name",
						Usage:    "Collection name",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:     "id",
						Usage:    "Media ID to include (repeatable)",
						Required: true,
					},
				),
				Action: r.CollectionCreate,
			},
		},
	}
}

// historyCommand shows recorded runs
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recorded sync runs",
		Flags: withCommon(append(outputFlags(),
			&cli.StringFlag{
				Name:    "user",
				Aliases: []string{"u"},
				Usage:   "Only runs for this user",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only runs with this status (running, completed, failed, cancelled)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of runs to show",
				Value: 20,
			},
			&cli.StringFlag{
				Name:  "run",
				Usage: "Show the writes of one run (ID or #sequence)",
			},
		)...),
		Action: r.History,
	}
}

// keysCommand manages API keys in the system keyring
func keysCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "keys",
		Usage: "Manage server API keys in the system keyring",
		Commands: []*cli.Command{
			{
				Name:  "set",
				Usage: "Store the API key for lhs or rhs (read from stdin without --key)",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "side"},
				},
				Flags: withCommon(
					&cli.StringFlag{
						Name:  "key",
						Usage: "API key",
					},
				),
				Action: r.KeysSet,
			},
			{
				Name:  "delete",
				Usage: "Remove the stored API key for lhs or rhs",
				Arguments: []cli.Argument{
					&cli.StringArg{Name: "side"},
				},
				Flags:  withCommon(),
				Action: r.KeysDelete,
			},
		},
	}
}

// watchCommand runs scheduled syncs
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Sync every allowed user on a schedule and serve run status",
		Flags: withCommon(append(syncFlags(),
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Cron expression or descriptor, e.g. \"@every 30m\" (default: watch.schedule)",
			},
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Status server address (default: server.host:server.port)",
			},
			&cli.BoolFlag{
				Name:  "no-server",
				Usage: "Do not start the status server",
			},
		)...),
		Action: r.Watch,
	}
}

// tuiCommand launches the interactive UI
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Interactive terminal UI",
		Flags: withCommon(
			sourceFlag(),
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"n"},
				Usage:   "Start with dry run enabled",
			},
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "Do not record runs",
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where logs go while the UI is running",
				Value: "./tmp/embysync-tui.log",
			},
		),
		Action: r.TUI,
	}
}
