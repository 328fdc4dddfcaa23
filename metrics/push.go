package metrics

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/snappy"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/prometheus/prompb"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second
)

// PushRegistry implements Registry for push-based metrics collection.
//
// Instruments only update values in memory. Flush sends the current value of
// every series to a VictoriaMetrics/Prometheus remote write endpoint in a
// single request, so the hot path never blocks on the network.
type PushRegistry struct {
	pusher *pusher

	mu     sync.Mutex
	names  map[string]struct{}
	series map[string]*series
	now    func() time.Time
}

// PushConfig configures a PushRegistry.
type PushConfig struct {
	// URL is the base URL of the remote write endpoint (e.g., "http://localhost:9090").
	URL string
	// Prefix is prepended to every metric name, followed by an underscore.
	Prefix string
	// Job is the job label for all metrics.
	Job string
	// Instance is the instance label for all metrics.
	Instance string
	// Timeout is the HTTP client timeout. Defaults to DefaultTimeout.
	Timeout time.Duration
}

// NewPushRegistry creates a new PushRegistry that pushes metrics to the given URL.
func NewPushRegistry(cfg PushConfig) *PushRegistry {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &PushRegistry{
		pusher: &pusher{
			url:        strings.TrimSuffix(cfg.URL, "/") + "/api/v1/write",
			httpClient: &http.Client{Timeout: timeout},
			prefix:     cfg.Prefix,
			job:        cfg.Job,
			instance:   cfg.Instance,
		},
		names:  make(map[string]struct{}),
		series: make(map[string]*series),
		now:    time.Now,
	}
}

// NewGauge creates a new push-based Gauge.
func (r *PushRegistry) NewGauge(opts prometheus.GaugeOpts) (Gauge, error) {
	if err := r.register(opts.Name); err != nil {
		return nil, err
	}
	return r.lookup(opts.Name, nil), nil
}

// NewGaugeVec creates a new push-based GaugeVec.
func (r *PushRegistry) NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error) {
	if err := r.register(opts.Name); err != nil {
		return nil, err
	}
	return &pushGaugeVec{registry: r, name: opts.Name}, nil
}

// NewCounter creates a new push-based Counter.
func (r *PushRegistry) NewCounter(opts prometheus.CounterOpts) (Counter, error) {
	if err := r.register(opts.Name); err != nil {
		return nil, err
	}
	return r.lookup(opts.Name, nil), nil
}

// NewCounterVec creates a new push-based CounterVec.
func (r *PushRegistry) NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error) {
	if err := r.register(opts.Name); err != nil {
		return nil, err
	}
	return &pushCounterVec{registry: r, name: opts.Name}, nil
}

// Flush sends the current value of every series that has been written at
// least once. Series keep their values after a flush.
func (r *PushRegistry) Flush(ctx context.Context) error {
	r.mu.Lock()
	ts := r.now().UnixMilli()
	timeseries := make([]prompb.TimeSeries, 0, len(r.series))
	for _, s := range r.series {
		if value, ok := s.snapshot(); ok {
			timeseries = append(timeseries, r.pusher.timeSeries(s.name, value, s.labels, ts))
		}
	}
	r.mu.Unlock()

	if len(timeseries) == 0 {
		return nil
	}
	return r.pusher.push(ctx, timeseries)
}

func (r *PushRegistry) register(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.names[name]; ok {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.names[name] = struct{}{}
	return nil
}

// lookup returns the series for name and labels, creating it on first use.
func (r *PushRegistry) lookup(name string, labels prometheus.Labels) *series {
	key := name + "{" + labelsToKey(labels) + "}"

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.series[key]; ok {
		return s
	}
	s := &series{name: name, labels: maps.Clone(labels)}
	r.series[key] = s
	return s
}

// series is one buffered value. It implements both Gauge and Counter.
type series struct {
	name   string
	labels prometheus.Labels

	mu    sync.Mutex
	value float64
	set   bool
}

func (s *series) Set(v float64) {
	s.mu.Lock()
	s.value, s.set = v, true
	s.mu.Unlock()
}

func (s *series) Inc() {
	s.Add(1)
}

func (s *series) Add(v float64) {
	if v < 0 {
		panic("counter cannot decrease in value")
	}
	s.mu.Lock()
	s.value += v
	s.set = true
	s.mu.Unlock()
}

func (s *series) snapshot() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

type pushGaugeVec struct {
	registry *PushRegistry
	name     string
}

func (g *pushGaugeVec) With(labels prometheus.Labels) Gauge {
	return g.registry.lookup(g.name, labels)
}

type pushCounterVec struct {
	registry *PushRegistry
	name     string
}

func (c *pushCounterVec) With(labels prometheus.Labels) Counter {
	return c.registry.lookup(c.name, labels)
}

// pusher handles remote write to VictoriaMetrics/Prometheus.
type pusher struct {
	url        string
	httpClient *http.Client
	prefix     string
	job        string
	instance   string
}

// push sends one remote write request.
func (p *pusher) push(ctx context.Context, timeseries []prompb.TimeSeries) error {
	data, err := proto.Marshal(&prompb.WriteRequest{Timeseries: timeseries})
	if err != nil {
		return fmt.Errorf("marshaling write request: %w", err)
	}
	compressed := snappy.Encode(nil, data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Encoding", "snappy")
	req.Header.Set("Content-Type", "application/x-protobuf")
	req.Header.Set("X-Prometheus-Remote-Write-Version", "0.1.0")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// timeSeries converts one value to the remote write format.
func (p *pusher) timeSeries(name string, value float64, labels prometheus.Labels, ts int64) prompb.TimeSeries {
	metricName := name
	if p.prefix != "" {
		metricName = p.prefix + "_" + name
	}

	promLabels := make([]prompb.Label, 0, len(labels)+3)
	promLabels = append(promLabels, prompb.Label{Name: "__name__", Value: metricName})
	if p.job != "" {
		promLabels = append(promLabels, prompb.Label{Name: "job", Value: p.job})
	}
	if p.instance != "" {
		promLabels = append(promLabels, prompb.Label{Name: "instance", Value: p.instance})
	}
	for _, k := range sortedKeys(labels) {
		promLabels = append(promLabels, prompb.Label{Name: k, Value: labels[k]})
	}

	return prompb.TimeSeries{
		Labels:  promLabels,
		Samples: []prompb.Sample{{Value: value, Timestamp: ts}},
	}
}

// labelsToKey creates a stable string key from labels for map lookup.
func labelsToKey(labels prometheus.Labels) string {
	var b strings.Builder
	for _, k := range sortedKeys(labels) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
		b.WriteByte(',')
	}
	return b.String()
}

func sortedKeys(labels prometheus.Labels) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
