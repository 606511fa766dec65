package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/RBWare/rss2mastodon/config"
	"github.com/RBWare/rss2mastodon/feed"
	"github.com/RBWare/rss2mastodon/pipeline"
	"github.com/RBWare/rss2mastodon/store"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

type previewEntry struct {
	Account string `json:"account"`
	Digest  string `json:"digest"`
	New     bool   `json:"new"`
	Text    string `json:"text"`
}

// previewCmd represents the preview command
func previewCmd() *cli.Command {
	return &cli.Command{
		Name:  "preview",
		Usage: "Show what would be posted without posting anything",
		Description: `Fetches every configured feed and prints the status text that
would be published for each entry, together with its digest and whether
it is new relative to the persisted state. Nothing is posted and no
state is written.

Returns each entry as a JSON object on a single line. Use a tool like jq
to process the output.

Prints all other log messages to stderr.`,
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
			&cli.IntFlag{
				Name:    "max-chars",
				Value:   500,
				Usage:   "Character budget per status",
				EnvVars: []string{"RSS2MASTODON_MAX_CHARS"},
			},
		},
		Action: func(ctx *cli.Context) error {
			// Keep stdout clean for the JSON lines
			log.SetOutput(os.Stderr)

			cfg, err := config.LoadConfig(ctx.String("config"))
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			st, err := store.New(ctx.String("state-dir"))
			if err != nil {
				return fmt.Errorf("failed to open state directory: %w", err)
			}

			fetcher := feed.NewClient(pipeline.DefaultOptions().FetchTimeout)
			maxChars := ctx.Int("max-chars")

			for _, account := range cfg.Accounts {
				fetchCtx, cancel := context.WithTimeout(ctx.Context, pipeline.DefaultOptions().FetchTimeout)
				entries, err := fetcher.Fetch(fetchCtx, account.FeedURL)
				cancel()
				if err != nil {
					log.WithError(err).WithField("account", account.Name).Error("Failed to fetch feed")
					continue
				}

				ids, err := st.Open(account.Name)
				if err != nil {
					log.WithError(err).WithField("account", account.Name).Error("Failed to load id store")
					continue
				}

				for _, entry := range entries {
					digest, err := feed.Identify(entry)
					if err != nil {
						log.WithField("account", account.Name).Warn("Entry has no identity, skipping")
						continue
					}

					printStdout(previewEntry{
						Account: account.Name,
						Digest:  digest,
						New:     !ids.Contains(digest),
						Text:    feed.Format(entry, maxChars),
					})
				}
			}

			return nil
		},
	}
}

func printStdout(entry previewEntry) {
	// Print as single JSON string on a single line
	line, err := json.Marshal(entry)
	if err == nil {
		fmt.Println(string(line))
	}
}
