package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"
)

// version is stamped at build time.
var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "mioring",
		Usage:   "Local content ring: register clippings, derive new content lazily, archive whole subtrees",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			mcpCommand(),
			registerCommand(),
			initiateCommand(),
			forceCommand(),
			viewCommand(),
			archiveCommand(),
			deleteCommand(),
			purgeCommand(),
			elevateCommand(),
			pinCommand(),
			unpinCommand(),
			offeredCommand(),
			keygenCommand(),
		},
		Action: serve,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
