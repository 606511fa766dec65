package cmd

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func RootApp() *cli.App {
	return &cli.App{
		Name:  "rss2mastodon",
		Usage: "Mirror RSS and Atom feeds to Mastodon accounts",
		Description: `Polls a set of RSS/Atom feeds and republishes new entries as
		statuses on configured Mastodon accounts.

		Entries already posted are tracked per account in a state directory,
		so repeated runs only post what is new. Statuses are bounded at the
		instance character limit, keeping the title and link intact and as
		much of the summary as fits.

		Flags can generally be set via environment variables, e.g.:

		--config => RSS2MASTODON_CONFIG=feeds.toml
		--state-dir => RSS2MASTODON_STATE_DIR=posted_ids
		`,
		Commands: []*cli.Command{
			runCmd(),
			previewCmd(),
			addCmd(),
		},
		Action: func(ctx *cli.Context) error {
			// Show help if no command is specified
			return ctx.App.Run([]string{"", "help"})
		},
	}
}

func Execute() {
	if err := RootApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
