package main

import (
	"github.com/spf13/cobra"

	"meshhooks/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	var write string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if write != "" {
				if err := config.Save(write, a.cfg); err != nil {
					return err
				}
				a.log.Info("config written", "path", write)
				return nil
			}
			return config.Write(a.stdout, a.cfg)
		},
	}
	cmd.Flags().StringVar(&write, "write", "", "Save the effective configuration to this file instead")
	return cmd
}
