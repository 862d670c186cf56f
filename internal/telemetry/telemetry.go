package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ashkan-rafiee/conductor/config"
	"github.com/ashkan-rafiee/conductor/internal/gateway"
)

// Telemetry tracks run and task outcomes, token spend, and cost. One
// instance serves the whole process.
type Telemetry struct {
	config  config.TelemetryConfig
	logger  *log.Logger
	mu      sync.RWMutex
	metrics *Metrics

	runsTotal    *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	tasksTotal   *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec
	tokensTotal  prometheus.Counter
	costTotal    prometheus.Counter
}

// Metrics is the in-process counter snapshot.
type Metrics struct {
	TotalRuns      int64         `json:"total_runs"`
	FailedRuns     int64         `json:"failed_runs"`
	AverageRunTime time.Duration `json:"average_run_time"`

	TaskExecutions map[string]int64         `json:"task_executions"`
	TaskFailures   map[string]int64         `json:"task_failures"`
	TaskAvgTimes   map[string]time.Duration `json:"task_avg_times"`

	TotalTokens int64   `json:"total_tokens"`
	TotalCost   float64 `json:"total_cost"`
}

// New creates a telemetry instance and registers its collectors with reg.
// A nil registerer skips prometheus registration, which tests use.
func New(cfg config.TelemetryConfig, reg prometheus.Registerer) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			TaskExecutions: make(map[string]int64),
			TaskFailures:   make(map[string]int64),
			TaskAvgTimes:   make(map[string]time.Duration),
		},
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_runs_total",
			Help: "Orchestration runs by execution type and status.",
		}, []string{"execution_type", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_run_duration_seconds",
			Help:    "End to end run duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"execution_type"}),
		tasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_tasks_total",
			Help: "Task executions by agent and status.",
		}, []string{"agent", "status"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_task_duration_seconds",
			Help:    "Per task provider call duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"agent"}),
		tokensTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_tokens_total",
			Help: "Total tokens consumed by provider calls.",
		}),
		costTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conductor_cost_dollars_total",
			Help: "Estimated total spend in dollars.",
		}),
	}
	if reg != nil {
		reg.MustRegister(t.runsTotal, t.runDuration, t.tasksTotal, t.taskDuration, t.tokensTotal, t.costTotal)
	}
	return t
}

// RecordRun records the outcome of one orchestration run.
func (t *Telemetry) RecordRun(executionType string, duration time.Duration, tokens int64, cost float64, failed bool) {
	if !t.config.Enabled {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	t.runsTotal.WithLabelValues(executionType, status).Inc()
	t.runDuration.WithLabelValues(executionType).Observe(duration.Seconds())
	t.tokensTotal.Add(float64(tokens))
	if t.config.CostTracking {
		t.costTotal.Add(cost)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.TotalRuns++
	if failed {
		t.metrics.FailedRuns++
	}
	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + duration) / time.Duration(t.metrics.TotalRuns)
	}
	// Token and cost totals accumulate per task in RecordTask; the run-level
	// figures here are already sums over the run's tasks.
	t.logger.Printf("Run: type=%s, failed=%t, duration=%v, cost=$%.4f, tokens=%d",
		executionType, failed, duration, cost, tokens)
}

// RecordTask records one provider invocation.
func (t *Telemetry) RecordTask(agentID string, duration time.Duration, tokens int64, cost float64, failed bool) {
	if !t.config.Enabled {
		return
	}
	status := "ok"
	if failed {
		status = "failed"
	}
	t.tasksTotal.WithLabelValues(agentID, status).Inc()
	t.taskDuration.WithLabelValues(agentID).Observe(duration.Seconds())

	t.mu.Lock()
	defer t.mu.Unlock()
	t.metrics.TaskExecutions[agentID]++
	if failed {
		t.metrics.TaskFailures[agentID]++
	}
	n := t.metrics.TaskExecutions[agentID]
	if n == 1 {
		t.metrics.TaskAvgTimes[agentID] = duration
	} else {
		total := t.metrics.TaskAvgTimes[agentID] * time.Duration(n-1)
		t.metrics.TaskAvgTimes[agentID] = (total + duration) / time.Duration(n)
	}
	t.metrics.TotalTokens += tokens
	t.metrics.TotalCost += cost
}

// GetMetrics returns a copy of the current counters.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	m := *t.metrics
	m.TaskExecutions = make(map[string]int64, len(t.metrics.TaskExecutions))
	m.TaskFailures = make(map[string]int64, len(t.metrics.TaskFailures))
	m.TaskAvgTimes = make(map[string]time.Duration, len(t.metrics.TaskAvgTimes))
	for k, v := range t.metrics.TaskExecutions {
		m.TaskExecutions[k] = v
	}
	for k, v := range t.metrics.TaskFailures {
		m.TaskFailures[k] = v
	}
	for k, v := range t.metrics.TaskAvgTimes {
		m.TaskAvgTimes[k] = v
	}
	return m
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	m := t.GetMetrics()
	t.logger.Printf("Final report: runs=%d (failed=%d), avg=%v, tokens=%d, cost=$%.4f",
		m.TotalRuns, m.FailedRuns, m.AverageRunTime, m.TotalTokens, m.TotalCost)
}

// modelRates holds per-1K-token pricing.
type modelRates struct {
	inPer1K  float64
	outPer1K float64
}

var pricing = map[string]modelRates{
	"gpt-4o":      {inPer1K: 0.0025, outPer1K: 0.01},
	"gpt-4o-mini": {inPer1K: 0.00015, outPer1K: 0.0006},
	"o3-mini":     {inPer1K: 0.0011, outPer1K: 0.0044},
}

// defaultRates is used for models absent from the pricing table.
var defaultRates = modelRates{inPer1K: 0.001, outPer1K: 0.002}

// Cost prices a provider call from its token usage.
func (t *Telemetry) Cost(model string, usage gateway.Usage) float64 {
	if !t.config.CostTracking {
		return 0
	}
	rates, ok := pricing[model]
	if !ok {
		rates = defaultRates
	}
	return float64(usage.PromptTokens)/1000.0*rates.inPer1K +
		float64(usage.CompletionTokens)/1000.0*rates.outPer1K
}
