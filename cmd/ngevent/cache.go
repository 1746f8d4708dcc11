package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"github.com/eugener/ngevent/internal/cache"
)

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "inspect and maintain the shared durable cache",
		Commands: []*cli.Command{
			{
				Name:  "stats",
				Usage: "count entries by state",
				Action: withCache(func(ctx context.Context, _ *cli.Command, d *cache.Durable) error {
					printStats(os.Stdout, d.Stats(ctx))
					return nil
				}),
			},
			{
				Name:  "sweep",
				Usage: "remove expired entries",
				Action: withCache(func(ctx context.Context, _ *cli.Command, d *cache.Durable) error {
					n, err := d.ClearExpired(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("removed %s expired entries\n", humanize.Comma(int64(n)))
					return nil
				}),
			},
			{
				Name:  "reset",
				Usage: "remove every application entry",
				Action: withCache(func(ctx context.Context, _ *cli.Command, d *cache.Durable) error {
					n, err := d.Reset(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("removed %s entries\n", humanize.Comma(int64(n)))
					return nil
				}),
			},
			{
				Name:      "clear",
				Usage:     "remove every entry whose key starts with a prefix",
				ArgsUsage: "<prefix>",
				Action: withCache(func(ctx context.Context, cmd *cli.Command, d *cache.Durable) error {
					prefix := cmd.Args().First()
					if prefix == "" {
						return errors.New("a key prefix is required")
					}
					n, err := d.ClearPrefix(ctx, prefix)
					if err != nil {
						return err
					}
					fmt.Printf("removed %s entries under %q\n", humanize.Comma(int64(n)), prefix)
					return nil
				}),
			},
			{
				Name:      "inspect",
				Usage:     "show the raw entry at a key",
				ArgsUsage: "<key>",
				Action: withCache(func(ctx context.Context, cmd *cli.Command, d *cache.Durable) error {
					key := cmd.Args().First()
					if key == "" {
						return errors.New("a key is required")
					}
					e, ok, err := d.Inspect(ctx, key)
					if err != nil {
						return err
					}
					if !ok {
						return fmt.Errorf("no valid entry at %q", key)
					}
					printEntry(os.Stdout, key, e, time.Now())
					return nil
				}),
			},
		},
	}
}

type cacheAction func(ctx context.Context, cmd *cli.Command, d *cache.Durable) error

// withCache opens the configured shared cache around fn.
func withCache(fn cacheAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		d, closeAll, err := openSharedCache(cfg)
		if err != nil {
			return err
		}
		defer closeAll()
		return fn(ctx, cmd, d)
	}
}

func printStats(w io.Writer, s cache.Stats) {
	fmt.Fprintf(w, "total:   %s\n", humanize.Comma(int64(s.Total)))
	fmt.Fprintf(w, "valid:   %s\n", humanize.Comma(int64(s.Valid)))
	fmt.Fprintf(w, "expired: %s\n", humanize.Comma(int64(s.Expired)))
	fmt.Fprintf(w, "invalid: %s\n", humanize.Comma(int64(s.Invalid)))
}

func printEntry(w io.Writer, key string, e *cache.Entry, now time.Time) {
	written := time.UnixMilli(e.Timestamp)
	expires := time.UnixMilli(e.ExpiresAt)
	state := "valid"
	if !e.Valid(now) {
		state = "expired"
	}
	fmt.Fprintf(w, "key:     %s\n", key)
	fmt.Fprintf(w, "state:   %s\n", state)
	fmt.Fprintf(w, "written: %s (%s)\n", written.UTC().Format(time.RFC3339), humanize.RelTime(written, now, "ago", "from now"))
	fmt.Fprintf(w, "expires: %s (%s)\n", expires.UTC().Format(time.RFC3339), humanize.RelTime(expires, now, "ago", "from now"))
	fmt.Fprintf(w, "size:    %s\n", humanize.Bytes(uint64(len(e.Data))))
	fmt.Fprintf(w, "data:    %s\n", e.Data)
}
