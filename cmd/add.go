package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/RBWare/rss2mastodon/config"
	"github.com/RBWare/rss2mastodon/mastodon"

	"github.com/cqroot/prompt"
	"github.com/cqroot/prompt/input"
	"github.com/urfave/cli/v2"
)

// addCmd represents the add command
func addCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Add a feed/account pair to the configuration",
		Description: `Interactively adds a feed/account pair to the configuration file.

A Mastodon access token with write:statuses and write:media scope is
required. The token is verified against the instance before the
configuration is saved.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "feeds.toml",
				Usage:   "Path to the accounts configuration file",
				EnvVars: []string{"RSS2MASTODON_CONFIG"},
			},
		},
		Action: func(ctx *cli.Context) error {
			name, err := prompt.New().Ask("Account name:").Input("myblog")
			if err != nil {
				return err
			}

			feedURL, err := prompt.New().Ask("Feed URL:").Input("https://example.com/feed.xml")
			if err != nil {
				return err
			}

			instanceURL, err := prompt.New().Ask("Instance URL:").Input("https://mastodon.social")
			if err != nil {
				return err
			}

			token, err := prompt.New().Ask("Access token:").Input("", input.WithEchoMode(input.EchoNone))
			if err != nil {
				return err
			}

			path := ctx.String("config")
			cfg := &config.Config{}
			if _, err := os.Stat(path); err == nil {
				existing, err := config.LoadConfig(path)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				cfg = existing
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to stat config: %w", err)
			}

			cfg.Accounts = append(cfg.Accounts, config.Account{
				Name:        name,
				FeedURL:     feedURL,
				InstanceURL: instanceURL,
				AccessToken: token,
			})

			if err := cfg.Validate(); err != nil {
				return err
			}

			client := mastodon.NewClient(instanceURL, token)
			acct, err := client.VerifyCredentials(ctx.Context)
			if err != nil {
				return fmt.Errorf("could not verify credentials against %s: %w", instanceURL, err)
			}
			fmt.Println("Authenticated as", acct)

			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("failed to save config: %w", err)
			}
			fmt.Println("Added account...", name)

			return nil
		},
	}
}
