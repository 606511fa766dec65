package cmd

import (
	"fmt"
	"time"

	"github.com/RBWare/rss2mastodon/config"
	"github.com/RBWare/rss2mastodon/feed"
	"github.com/RBWare/rss2mastodon/mastodon"
	"github.com/RBWare/rss2mastodon/pipeline"
	"github.com/RBWare/rss2mastodon/store"

	"github.com/urfave/cli/v2"
)

// runCmd represents the run command
func runCmd() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Fetch all configured feeds and publish new entries",
		Description: `Processes every account in the configuration file in order.

For each account the feed is fetched, entries that have not been posted
before are published to the account's Mastodon instance, and each posted
entry id is persisted immediately. On the first run for an account only
the most recent entry is posted to avoid flooding the timeline with
history.

Feeds are independent: a failing feed is logged and the remaining feeds
are still processed.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "feeds.toml",
				Usage:   "Path to the accounts configuration file",
				EnvVars: []string{"RSS2MASTODON_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "state-dir",
				Aliases: []string{"s"},
				Value:   "posted_ids",
				Usage:   "Directory holding the per-account posted id files",
				EnvVars: []string{"RSS2MASTODON_STATE_DIR"},
			},
			&cli.DurationFlag{
				Name:    "post-delay",
				Value:   15 * time.Second,
				Usage:   "Pause after each successful post",
				EnvVars: []string{"RSS2MASTODON_POST_DELAY"},
			},
			&cli.IntFlag{
				Name:    "max-chars",
				Value:   500,
				Usage:   "Character budget per status",
				EnvVars: []string{"RSS2MASTODON_MAX_CHARS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			st, err := store.New(ctx.String("state-dir"))
			if err != nil {
				return fmt.Errorf("failed to open state directory: %w", err)
			}

			opts := pipeline.DefaultOptions()
			opts.PostDelay = ctx.Duration("post-delay")
			opts.MaxChars = ctx.Int("max-chars")

			p := pipeline.New(
				feed.NewClient(opts.FetchTimeout),
				st,
				feed.NewDownloader(opts.FetchTimeout),
				func(account config.Account) pipeline.Publisher {
					return mastodon.NewClient(account.InstanceURL, account.AccessToken)
				},
				opts,
			)

			p.RunAll(ctx.Context, cfg.Accounts)

			return nil
		},
	}
}
