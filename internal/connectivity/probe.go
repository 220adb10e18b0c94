package connectivity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/eduflow-sync/pkg/logger"
)

const (
	defaultInterval = 10 * time.Second
	defaultTimeout  = 3 * time.Second
)

// Prober performs one reachability check.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function into a Prober.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

type pinger interface {
	Ping(ctx context.Context) error
}

// PingProber checks anything with a Ping method: the remote store or redis.
func PingProber(p pinger) Prober {
	return ProberFunc(p.Ping)
}

// HTTPProber issues GET url and treats 2xx and 3xx as reachable.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (h HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return fmt.Errorf("build probe request: %w", err)
	}
	client := h.Client
	if client == nil {
		client = &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s returned %d", h.URL, resp.StatusCode)
	}
	return nil
}

// All succeeds only when every prober does.
func All(probers ...Prober) Prober {
	return ProberFunc(func(ctx context.Context) error {
		var errs error
		for _, p := range probers {
			errs = multierr.Append(errs, p.Probe(ctx))
		}
		return errs
	})
}

type ProbeOptions struct {
	Interval time.Duration
	Timeout  time.Duration
}

// ProbeMonitor polls a Prober. It starts offline, so the first successful
// probe is reported as a transition.
type ProbeMonitor struct {
	*notifier
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logg     *logger.Logger
}

func NewProbeMonitor(prober Prober, opts ProbeOptions, logg *logger.Logger) (*ProbeMonitor, error) {
	if prober == nil {
		return nil, errors.New("prober required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &ProbeMonitor{
		notifier: newNotifier(false),
		prober:   prober,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		logg:     logg,
	}, nil
}

// Check probes once and records the result.
func (m *ProbeMonitor) Check(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	err := m.prober.Probe(probeCtx)
	cancel()

	was := m.Status().Connected
	m.set(err == nil)
	switch {
	case err != nil && was:
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "remote store unreachable")
	case err == nil && !was:
		m.logg.Info(ctx, "remote store reachable")
	}
	return m.Status()
}

// Run probes immediately and then every interval until ctx is done.
func (m *ProbeMonitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

