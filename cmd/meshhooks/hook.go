package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"meshhooks/internal/execx"
	"meshhooks/internal/hooks"
	"meshhooks/internal/keyrepo"
)

func newHookCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Per-event hooks fed with one node response on stdin",
	}

	cmd.AddCommand(
		a.hookCmd("example", "Print the node response and the hostname", func(cmd *cobra.Command, n hooks.Node) error {
			return hooks.Example(a.stdout, n)
		}),
		a.hookCmd("new-node", "Announce a node seen for the first time", func(cmd *cobra.Command, n hooks.Node) error {
			return hooks.NewNode(a.stdout, n)
		}),
		newFastdKeyCmd(a),
	)
	return cmd
}

func (a *app) hookCmd(use, short string, run func(*cobra.Command, hooks.Node) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.readNode()
			if err != nil {
				return err
			}
			return a.softSkip(run(cmd, n))
		},
	}
}

func newFastdKeyCmd(a *app) *cobra.Command {
	var repo, cache string
	var maxAge time.Duration

	cmd := &cobra.Command{
		Use:   "fastd-key",
		Short: "Report nodes whose fastd key is not in the key repository",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		f := &a.cfg.Fastd
		flags := cmd.Flags()
		if flags.Changed("repo") {
			f.Repo = repo
		}
		if flags.Changed("cache") {
			f.Cache = cache
		}
		if flags.Changed("cache-max-age") {
			f.CacheMaxAge = maxAge.String()
		}
		age, err := a.cfg.CacheMaxAge()
		if err != nil {
			return err
		}

		n, err := a.readNode()
		if err != nil {
			return err
		}
		loader := keyrepo.Loader{
			Repo:      keyrepo.Repo{URL: f.Repo, Runner: gitRunner(a.stderr)},
			CachePath: f.Cache,
			MaxAge:    age,
			Log:       a.log,
		}
		c, err := hooks.FastdKey(cmd.Context(), a.stdout, n, loader)
		if err != nil {
			return a.softSkip(err)
		}
		a.log.Debug("fastd key checked", "node", c.NodeID, "known", c.Known, "contact", c.Contact)
		return nil
	}
	cmd.Flags().StringVar(&repo, "repo", "", "git URL of the fastd key repository (env FASTD_KEYREPO)")
	cmd.Flags().StringVar(&cache, "cache", "", "YAML file caching the repository keys")
	cmd.Flags().DurationVar(&maxAge, "cache-max-age", 0, "Refresh the key cache when it is older than this")
	return cmd
}

// gitRunner runs git without a terminal to answer credential prompts.
func gitRunner(stderr io.Writer) *execx.OSRunner {
	r := execx.NewOSRunner(io.Discard, stderr)
	r.Env = []string{"GIT_TERMINAL_PROMPT=0"}
	return r
}

// readNode reads the hook input from --input or stdin.
func (a *app) readNode() (hooks.Node, error) {
	in := a.stdin
	if a.input != "" && a.input != "-" {
		f, err := os.Open(a.input)
		if err != nil {
			return hooks.Node{}, err
		}
		defer f.Close()
		in = f
	}
	return hooks.ReadNode(in)
}

// softSkip turns an incomplete node into a diagnostic and a successful exit.
func (a *app) softSkip(err error) error {
	var inc *hooks.IncompleteError
	if errors.As(err, &inc) {
		fmt.Fprintln(a.stderr, inc)
		return nil
	}
	return err
}
