package report

import (
	"context"
	"log/slog"
	"sort"
)

// Skip records why one node did not (fully) make it into an output.
type Skip struct {
	NodeID string
	Stage  string
	Reason string
}

// Report collects per-node outcomes of one run.
type Report struct {
	log       *slog.Logger
	processed int
	skips     []Skip
}

func New(log *slog.Logger) *Report {
	return &Report{log: log}
}

// Processed adds n to the number of nodes looked at.
func (r *Report) Processed(n int) {
	r.processed += n
}

// Advise records a skip caused by an incomplete response and logs it as a warning.
func (r *Report) Advise(nodeID, stage string, err error) {
	r.add(slog.LevelWarn, nodeID, stage, err)
}

// Drop records a skip caused by a failed validation. Logged at debug only.
func (r *Report) Drop(nodeID, stage string, err error) {
	r.add(slog.LevelDebug, nodeID, stage, err)
}

func (r *Report) add(lvl slog.Level, nodeID, stage string, err error) {
	s := Skip{NodeID: nodeID, Stage: stage, Reason: err.Error()}
	r.skips = append(r.skips, s)
	if r.log != nil {
		r.log.Log(context.Background(), lvl, "node skipped", "node", nodeID, "stage", stage, "reason", s.Reason)
	}
}

func (r *Report) Skips() []Skip {
	return r.skips
}

func (r *Report) SkipCount() int {
	return len(r.skips)
}

// Reasons counts skips per reason.
func (r *Report) Reasons() map[string]int {
	out := make(map[string]int)
	for _, s := range r.skips {
		out[s.Reason]++
	}
	return out
}

// Log writes the end-of-run summary.
func (r *Report) Log(what string) {
	if r.log == nil {
		return
	}
	r.log.Info(what+" done", "nodes", r.processed, "skipped", len(r.skips))

	reasons := r.Reasons()
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.log.Debug("skip reason", "reason", k, "count", reasons[k])
	}
}
