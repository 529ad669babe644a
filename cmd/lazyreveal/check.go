package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/lazyreveal/lazyreveal"
)

func checkCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file without starting a browser",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := lazyreveal.LoadConfigFile(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := lazyreveal.Check(cfg); err != nil {
				return err
			}
			jobs := 0
			for _, p := range cfg.Pages {
				jobs += len(p.Jobs)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d pages, %d jobs\n", len(cfg.Pages), jobs)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "lazyreveal.yaml", "path to the YAML config file")
	return cmd
}
