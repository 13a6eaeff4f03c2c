package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/upb/llm-provider-manager/services/providers"
)

const (
	// DefaultBufferSize caps the number of retained cost records
	DefaultBufferSize = 1000

	// DefaultRate is the USD per 1K tokens applied to backends without a rate
	DefaultRate = 0.02
)

// DefaultRates returns the built-in USD per 1K token rates
func DefaultRates() map[string]float64 {
	return map[string]float64{
		providers.BackendOpenAI:    0.03,
		providers.BackendAnthropic: 0.025,
		providers.BackendDeepSeek:  0.002,
		providers.BackendGemini:    0.015,
		providers.BackendXAI:       0.02,
	}
}

// Config holds tracker configuration
type Config struct {
	// BufferSize is the ring buffer capacity
	BufferSize int

	// Rates maps backend names to USD per 1K tokens
	Rates map[string]float64

	// DefaultRate applies to backends missing from Rates
	DefaultRate float64
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  DefaultBufferSize,
		Rates:       DefaultRates(),
		DefaultRate: DefaultRate,
	}
}

// CostRecord is one recorded candidate attempt
type CostRecord struct {
	ID               string             `json:"id"`
	Backend          string             `json:"backend"`
	TaskType         providers.TaskType `json:"task_type"`
	Model            string             `json:"model,omitempty"`
	TokensUsed       int                `json:"tokens_used"`
	EstimatedCostUSD float64            `json:"estimated_cost_usd"`
	LatencySeconds   float64            `json:"latency_seconds"`
	Succeeded        bool               `json:"succeeded"`
	ErrorKind        string             `json:"error_kind,omitempty"`
	Timestamp        time.Time          `json:"timestamp"`
}

// BackendStatus merges live health with accumulated counters
type BackendStatus struct {
	Healthy         bool                 `json:"healthy"`
	ModelsAvailable []string             `json:"models_available"`
	SupportedTasks  []providers.TaskType `json:"supported_tasks"`
	SuccessCount    int64                `json:"success_count"`
	ErrorCount      int64                `json:"error_count"`
	TotalTokens     int64                `json:"total_tokens"`
}

// BackendCost aggregates cost for one backend
type BackendCost struct {
	CostUSD           float64 `json:"cost_usd"`
	Tokens            int64   `json:"tokens"`
	Requests          int64   `json:"requests"`
	AvgLatencySeconds float64 `json:"avg_latency_seconds"`
}

// TaskCost aggregates cost for one task type
type TaskCost struct {
	CostUSD  float64 `json:"cost_usd"`
	Requests int64   `json:"requests"`
}

// CostAnalytics is the aggregation over the retained cost records
type CostAnalytics struct {
	TotalCostUSD float64                         `json:"total_cost_usd"`
	PerBackend   map[string]BackendCost          `json:"per_backend"`
	PerTaskType  map[providers.TaskType]TaskCost `json:"per_task_type"`
}

// Prober is the view of the registry the tracker needs for status reports
type Prober interface {
	Names() []string
	Get(name string) (providers.Provider, error)
	MarkHealth(name string, healthy bool)
}

// Sink receives every cost record after it is stored
type Sink interface {
	Consume(record CostRecord)
}

// SinkFunc adapts a function to Sink
type SinkFunc func(record CostRecord)

// Consume calls f(record)
func (f SinkFunc) Consume(record CostRecord) {
	f(record)
}

type counters struct {
	success int64
	errors  int64
	tokens  int64
}

// Tracker keeps per-backend counters and a bounded FIFO of cost records
type Tracker struct {
	cfg    Config
	prober Prober
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	buf      []CostRecord
	next     int
	size     int
	counters map[string]*counters

	sinksMu sync.RWMutex
	sinks   []Sink
}

// New creates a tracker. Invalid sizes and rates fall back to defaults.
func New(cfg Config, prober Prober, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.DefaultRate < 0 {
		cfg.DefaultRate = DefaultRate
	}
	rates := DefaultRates()
	for name, rate := range cfg.Rates {
		rates[name] = rate
	}
	cfg.Rates = rates

	return &Tracker{
		cfg:      cfg,
		prober:   prober,
		logger:   logger,
		now:      time.Now,
		buf:      make([]CostRecord, cfg.BufferSize),
		counters: make(map[string]*counters),
	}
}

// AddSink registers a consumer for new cost records
func (t *Tracker) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	t.sinksMu.Lock()
	defer t.sinksMu.Unlock()
	t.sinks = append(t.sinks, sink)
}

// Rate returns the USD per 1K tokens for a backend
func (t *Tracker) Rate(backend string) float64 {
	if rate, ok := t.cfg.Rates[backend]; ok {
		return rate
	}
	return t.cfg.DefaultRate
}

// EstimateCost returns the USD cost of tokens on a backend
func (t *Tracker) EstimateCost(backend string, tokens int) float64 {
	return float64(tokens) / 1000 * t.Rate(backend)
}

// RecordOutcome stores the outcome of one candidate attempt. It never fails
// the caller; internal faults are logged.
func (t *Tracker) RecordOutcome(backend string, task providers.TaskType, result *providers.CompletionResult, latency time.Duration) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("recording outcome failed",
				zap.String("backend", backend),
				zap.Any("panic", rec),
			)
		}
	}()

	record := CostRecord{
		ID:             uuid.NewString(),
		Backend:        backend,
		TaskType:       task,
		LatencySeconds: latency.Seconds(),
		Succeeded:      result.OK(),
		Timestamp:      t.now().UTC(),
	}
	if result != nil {
		record.Model = result.Model
		record.TokensUsed = result.Usage.TotalTokens
		if result.Error != nil {
			record.ErrorKind = string(result.Error.Kind)
		}
	}
	record.EstimatedCostUSD = t.EstimateCost(backend, record.TokensUsed)

	t.store(record)
	t.publish(record)
}

func (t *Tracker) store(record CostRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.counters[record.Backend]
	if !ok {
		c = &counters{}
		t.counters[record.Backend] = c
	}
	if record.Succeeded {
		c.success++
	} else {
		c.errors++
	}
	c.tokens += int64(record.TokensUsed)

	t.buf[t.next] = record
	t.next = (t.next + 1) % len(t.buf)
	if t.size < len(t.buf) {
		t.size++
	}
}

func (t *Tracker) publish(record CostRecord) {
	t.sinksMu.RLock()
	sinks := make([]Sink, len(t.sinks))
	copy(sinks, t.sinks)
	t.sinksMu.RUnlock()

	for _, sink := range sinks {
		t.consume(sink, record)
	}
}

func (t *Tracker) consume(sink Sink, record CostRecord) {
	defer func() {
		if rec := recover(); rec != nil {
			t.logger.Error("cost record sink failed",
				zap.String("record_id", record.ID),
				zap.Any("panic", rec),
			)
		}
	}()
	sink.Consume(record)
}

// Records returns the retained cost records, oldest first
func (t *Tracker) Records() []CostRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Len returns the number of retained cost records
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.size
}

func (t *Tracker) snapshotLocked() []CostRecord {
	out := make([]CostRecord, 0, t.size)
	start := (t.next - t.size + len(t.buf)) % len(t.buf)
	for i := 0; i < t.size; i++ {
		out = append(out, t.buf[(start+i)%len(t.buf)])
	}
	return out
}

// GetCostAnalytics aggregates the retained cost records
func (t *Tracker) GetCostAnalytics() CostAnalytics {
	records := t.Records()

	analytics := CostAnalytics{
		PerBackend:  make(map[string]BackendCost),
		PerTaskType: make(map[providers.TaskType]TaskCost),
	}
	latencies := make(map[string]float64)

	for _, r := range records {
		analytics.TotalCostUSD += r.EstimatedCostUSD

		bc := analytics.PerBackend[r.Backend]
		bc.CostUSD += r.EstimatedCostUSD
		bc.Tokens += int64(r.TokensUsed)
		bc.Requests++
		analytics.PerBackend[r.Backend] = bc
		latencies[r.Backend] += r.LatencySeconds

		tc := analytics.PerTaskType[r.TaskType]
		tc.CostUSD += r.EstimatedCostUSD
		tc.Requests++
		analytics.PerTaskType[r.TaskType] = tc
	}

	for name, bc := range analytics.PerBackend {
		if bc.Requests > 0 {
			bc.AvgLatencySeconds = latencies[name] / float64(bc.Requests)
			analytics.PerBackend[name] = bc
		}
	}
	return analytics
}

// GetStatus probes every backend live, in parallel, and merges the result
// with the accumulated counters
func (t *Tracker) GetStatus(ctx context.Context) map[string]BackendStatus {
	if t.prober == nil {
		return map[string]BackendStatus{}
	}

	names := t.prober.Names()
	statuses := make([]BackendStatus, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			status, err := t.probe(gctx, name)
			if err != nil {
				t.logger.Warn("status probe failed", zap.String("backend", name), zap.Error(err))
			}
			statuses[i] = status
			return nil
		})
	}
	_ = g.Wait()

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]BackendStatus, len(names))
	for i, name := range names {
		status := statuses[i]
		if c, ok := t.counters[name]; ok {
			status.SuccessCount = c.success
			status.ErrorCount = c.errors
			status.TotalTokens = c.tokens
		}
		out[name] = status
	}
	return out
}

func (t *Tracker) probe(ctx context.Context, name string) (status BackendStatus, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("probe panicked: %v", rec)
		}
	}()

	provider, err := t.prober.Get(name)
	if err != nil {
		return BackendStatus{}, err
	}

	probeCtx, cancel := context.WithTimeout(ctx, providers.HealthCheckTimeout)
	defer cancel()

	status.Healthy = provider.HealthCheck(probeCtx)
	// a caller that went away says nothing about the backend
	if ctx.Err() == nil {
		t.prober.MarkHealth(name, status.Healthy)
	}
	status.ModelsAvailable = provider.ListModels(probeCtx)
	status.SupportedTasks = provider.SupportedTasks()
	return status, nil
}
