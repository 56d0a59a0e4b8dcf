package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newGenerateCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "generate-external",
		Short: "Create redirects for every live node carrying redirect URLs",
		Long: `Walks all redirect-capable nodes of the live workspace in every dimension
preset and reconciles their redirect URL field with the redirect table.
Nodes that fail are logged and skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(c.cfg, c.log)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					c.log.WithError(err).Warn("closing storage failed")
				}
			}()

			report, err := rt.service.GenerateAll(cmd.Context())
			if err != nil {
				return err
			}
			entry := c.log.WithFields(logrus.Fields{
				"presets":   report.Presets,
				"nodes":     report.Nodes,
				"changed":   report.Changed,
				"created":   report.Created,
				"removed":   report.Removed,
				"conflicts": report.Conflicts,
				"failed":    report.Failed,
			})
			if report.Failed > 0 {
				entry.Warn("redirect generation finished with failures")
				return nil
			}
			entry.Info("redirect generation finished")
			return nil
		},
	}
}
