package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"meshhooks/internal/hopglass"
)

func newGraphCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "graph",
		Short: "Print the hopglass graph.json of the current snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			nodes, rep, err := a.fetch(cmd.Context())
			if err != nil {
				return err
			}
			g := hopglass.BuildGraph(nodes, a.now(), rep)
			if err := writeJSON(a.stdout, g, "    "); err != nil {
				return err
			}
			rep.Log("graph")
			return nil
		},
	}
}

func newNodesCmd(a *app) *cobra.Command {
	var graphOut string

	cmd := &cobra.Command{
		Use:   "nodes",
		Short: "Print the hopglass nodes.json of the current snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("graph-out") {
				a.cfg.Hopglass.GraphOut = graphOut
			}

			nodes, rep, err := a.fetch(cmd.Context())
			if err != nil {
				return err
			}
			list, g := hopglass.BuildNodes(nodes, a.now(), rep)
			if err := writeJSON(a.stdout, list, ""); err != nil {
				return err
			}
			if out := a.cfg.Hopglass.GraphOut; out != "" {
				if err := writeJSONFile(out, g); err != nil {
					return fmt.Errorf("write graph: %w", err)
				}
				a.log.Debug("graph written", "path", out, "nodes", len(g.Batadv.Nodes), "links", len(g.Batadv.Links))
			}
			rep.Log("nodes")
			return nil
		},
	}
	cmd.Flags().StringVar(&graphOut, "graph-out", "", "Also write the membership graph to this file")
	return cmd
}

func writeJSON(w io.Writer, v any, indent string) error {
	enc := json.NewEncoder(w)
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeJSON(f, v, ""); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
