package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const programName = "giveawaybot"

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Timed Telegram giveaways",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "./config.json", "path to config file (json or yaml)")

	rootCmd.AddCommand(
		runCommand(),
		validateCommand(),
		activeCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
