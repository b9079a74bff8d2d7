package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshhooks/internal/config"
	"meshhooks/internal/exporter"
)

func newMetricsCmd(a *app) *cobra.Command {
	var push, listen, job, namespace string

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Export node metrics as exposition text, to a Pushgateway or over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m := &a.cfg.Metrics
			flags := cmd.Flags()
			if flags.Changed("push") {
				m.Push = push
			}
			if flags.Changed("listen") {
				m.Listen = listen
			}
			if flags.Changed("job") {
				m.Job = job
			}
			if flags.Changed("namespace") {
				m.Namespace = namespace
			}
			// PUSHGATEWAY may clash with --listen
			if err := config.Validate(a.cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			if m.Listen != "" {
				src, err := a.source()
				if err != nil {
					return err
				}
				return exporter.NewServer(m.Listen, src, m.Namespace, a.log).ListenAndServe(cmd.Context())
			}

			nodes, rep, err := a.fetch(cmd.Context())
			if err != nil {
				return err
			}
			reg, sum := exporter.Collect(nodes, m.Namespace, rep)

			if m.Push != "" {
				if err := exporter.Push(cmd.Context(), m.Push, m.Job, reg); err != nil {
					return err
				}
				a.log.Info("metrics pushed", "gateway", m.Push, "job", m.Job, "online", sum.Online, "clients", sum.Clients)
			} else if err := exporter.WriteText(a.stdout, reg); err != nil {
				return err
			}
			rep.Log("metrics")
			return nil
		},
	}
	cmd.Flags().StringVar(&push, "push", "", "Pushgateway host:port (env PUSHGATEWAY)")
	cmd.Flags().StringVar(&listen, "listen", "", "Serve /metrics on this address instead of printing")
	cmd.Flags().StringVar(&job, "job", "", "Pushgateway job name")
	cmd.Flags().StringVar(&namespace, "namespace", "", "Metric namespace")
	cmd.MarkFlagsMutuallyExclusive("push", "listen")
	return cmd
}
