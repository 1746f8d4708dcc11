// Ngevent serves event discovery, registration and dashboard data from a
// relational backend through a two-layer cache.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/eugener/ngevent/internal/config"
)

var version = "dev"

func main() {
	cmd := &cli.Command{
		Name:    "ngevent",
		Usage:   "cache-aware event service",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
				Value:   "configs/ngevent.yaml",
				Sources: cli.EnvVars("NGEVENT_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP server and background workers",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					cfg, err := loadConfig(cmd)
					if err != nil {
						return err
					}
					return serve(ctx, cfg, configPath(cmd))
				},
			},
			cacheCommand(),
			{
				Name:  "keygen",
				Usage: "print a random admin key",
				Action: func(context.Context, *cli.Command) error {
					fmt.Println(config.GenerateAdminKey())
					return nil
				},
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(context.Context, *cli.Command) error {
					fmt.Println("ngevent", version)
					return nil
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// configPath returns the config file in use, or "" when running on defaults.
func configPath(cmd *cli.Command) string {
	path := cmd.String("config")
	if _, err := os.Stat(path); err != nil && !cmd.IsSet("config") {
		return ""
	}
	return path
}

// loadConfig reads the config file. A missing default file falls back to
// built-in defaults; a missing explicit file is an error.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	path := cmd.String("config")
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) && !cmd.IsSet("config") {
		cfg = config.Default()
		return cfg, cfg.Validate()
	}
	return cfg, err
}
