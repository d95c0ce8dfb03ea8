package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"giveawaybot/internal/config"
)

func validateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config file and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewManager(configFile).Parse()
			if err != nil {
				return err
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			rt, err := config.Resolve(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: storage=%s tz=%s sweep=%q max_duration=%s\n",
				rt.StorageDriver, rt.Location, rt.Sweep, rt.MaxDuration)
			return nil
		},
	}
}
