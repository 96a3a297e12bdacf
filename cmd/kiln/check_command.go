package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kiln/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run environment preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			checks := preflight.Run(cfg)
			for _, check := range checks {
				kind := statusOK
				if !check.OK {
					kind = statusError
				}
				fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			if !preflight.Healthy(checks) {
				return fmt.Errorf("preflight failed")
			}
			return nil
		},
	}
}
