package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"

	"meshhooks/internal/controlsocket"
	"meshhooks/internal/report"
)

// Server serves the metric set over HTTP. Every scrape fetches a fresh snapshot from the
// control socket.
type Server struct {
	listen    string
	src       controlsocket.Source
	namespace string
	log       *slog.Logger

	mu      sync.Mutex
	last    Summary
	lastAt  time.Time
	lastErr error
	scrapes int
	skipped int
}

// NewServer constructs a metrics server.
func NewServer(listen string, src controlsocket.Source, namespace string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{listen: listen, src: src, namespace: namespace, log: log}
}

// Handler exposes /metrics and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(prometheus.GathererFunc(s.gather), promhttp.HandlerOpts{
		ErrorHandling: promhttp.HTTPErrorOnError,
	}))
	mux.HandleFunc("/healthz", s.handleHealth)
	return mux
}

// ListenAndServe runs the HTTP server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("metrics listening", "addr", s.listen)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) gather() ([]*dto.MetricFamily, error) {
	nodes, err := s.src.Fetch(context.Background())
	if err != nil {
		s.record(Summary{}, 0, err)
		s.log.Error("fetch nodes", "err", err)
		return nil, err
	}

	rep := report.New(s.log)
	rep.Processed(len(nodes))
	reg, sum := Collect(nodes, s.namespace, rep)
	rep.Log("scrape")
	s.record(sum, rep.SkipCount(), nil)
	return reg.Gather()
}

func (s *Server) record(sum Summary, skipped int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrapes++
	s.lastAt = time.Now().UTC()
	s.lastErr = err
	if err == nil {
		s.last = sum
		s.skipped = skipped
	}
}

type health struct {
	Scrapes    int        `json:"scrapes"`
	LastScrape *time.Time `json:"last_scrape,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Nodes      int        `json:"nodes"`
	Online     int        `json:"online"`
	Skipped    int        `json:"skipped"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	s.mu.Lock()
	h := health{
		Scrapes: s.scrapes,
		Nodes:   s.last.Nodes,
		Online:  s.last.Online,
		Skipped: s.skipped,
	}
	if s.scrapes > 0 {
		at := s.lastAt
		h.LastScrape = &at
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	s.mu.Unlock()

	status := http.StatusOK
	if h.LastError != "" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
