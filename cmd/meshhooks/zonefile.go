package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"meshhooks/internal/zonefile"
)

func newZonefileCmd(a *app) *cobra.Command {
	var out, prefix, origin string
	var ttl uint32

	cmd := &cobra.Command{
		Use:   "zonefile",
		Short: "Print a DNS zone with one AAAA record per node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			z := &a.cfg.Zonefile
			flags := cmd.Flags()
			if flags.Changed("out") {
				z.Out = out
			}
			if flags.Changed("prefix") {
				z.Prefix = prefix
			}
			if flags.Changed("origin") {
				z.Origin = origin
			}
			if flags.Changed("ttl") {
				z.TTL = ttl
			}
			zcfg, err := z.Zone()
			if err != nil {
				return err
			}

			nodes, rep, err := a.fetch(cmd.Context())
			if err != nil {
				return err
			}
			zone := zonefile.Build(nodes, zcfg, uint32(a.now().Unix()), rep)

			if z.Out != "" {
				if err := zonefile.WriteFile(z.Out, zone); err != nil {
					return fmt.Errorf("write zone: %w", err)
				}
			} else if _, err := zone.WriteTo(a.stdout); err != nil {
				return err
			}
			a.log.Debug("zone built", "records", len(zone.Records), "serial", zone.SOA.Serial)
			rep.Log("zonefile")
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Write the zone to this file (env ZONEFILE_OUT)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "Only publish addresses inside this IPv6 prefix (env ZONEFILE_PREFIX)")
	cmd.Flags().StringVar(&origin, "origin", "", "Zone origin (env ZONEFILE_ORIGIN)")
	cmd.Flags().Uint32Var(&ttl, "ttl", 0, "Default TTL (env ZONEFILE_TTL)")
	return cmd
}
