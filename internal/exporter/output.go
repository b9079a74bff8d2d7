package exporter

import (
	"context"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/prometheus/common/expfmt"
)

// WriteText writes everything g gathers in the text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	mfs, err := g.Gather()
	if err != nil {
		return err
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range mfs {
		if err := enc.Encode(mf); err != nil {
			return err
		}
	}
	if closer, ok := enc.(expfmt.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Push replaces the job's metrics on a Pushgateway. gateway may omit the scheme.
func Push(ctx context.Context, gateway, job string, g prometheus.Gatherer) error {
	if gateway == "" {
		return fmt.Errorf("pushgateway address is required")
	}
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(gateway, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("push to %s: %w", gateway, err)
	}
	return nil
}
