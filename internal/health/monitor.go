// Package health runs periodic gRPC health-protocol probes against the
// backend pools. Probe outcomes feed the operational status endpoint
// and the event bus only; real traffic outcomes, not probes, drive the
// circuit breakers.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/elucidate-ai/personalresearcher-ag4mzv-sub001/internal/events"
)

// Status is the probed readiness of a backend.
type Status string

const (
	// StatusUnknown means no probe has completed yet.
	StatusUnknown Status = "UNKNOWN"

	// StatusServing means the last probe succeeded with SERVING.
	StatusServing Status = "SERVING"

	// StatusNotServing means the last probe failed or reported
	// NOT_SERVING.
	StatusNotServing Status = "NOT_SERVING"
)

// Record is the latest probe outcome for one backend.
type Record struct {
	Backend     string        `json:"backend"`
	Status      Status        `json:"status"`
	RTT         time.Duration `json:"rtt"`
	LastChecked time.Time     `json:"lastChecked"`
	LastError   string        `json:"lastError,omitempty"`
}

// ConnSelector yields a pooled connection for probe traffic.
type ConnSelector interface {
	Select() (*grpc.ClientConn, int)
}

// Target names one backend and the pool its probes run against.
type Target struct {
	Name string
	Pool ConnSelector
}

// Config holds monitor timing.
type Config struct {
	// ProbeInterval is the fixed period between probe rounds,
	// independent of request traffic.
	ProbeInterval time.Duration

	// ProbeTimeout bounds each individual probe.
	ProbeTimeout time.Duration
}

// Monitor probes every target on a fixed interval and retains the most
// recent Record per backend.
type Monitor struct {
	config  Config
	targets []Target
	bus     *events.Bus
	logger  *zap.Logger

	mu      sync.RWMutex
	records map[string]Record

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewMonitor creates a monitor for the given targets. The bus may be
// nil when no subscriber exists.
func NewMonitor(config Config, targets []Target, bus *events.Bus, logger *zap.Logger) *Monitor {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 30 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	records := make(map[string]Record, len(targets))
	for _, tg := range targets {
		records[tg.Name] = Record{Backend: tg.Name, Status: StatusUnknown}
	}

	return &Monitor{
		config:  config,
		targets: targets,
		bus:     bus,
		logger:  logger,
		records: records,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the probe loop. The first round runs immediately so
// records populate before the first interval elapses.
func (m *Monitor) Start() {
	if m.started.Swap(true) {
		return
	}
	go m.run()
}

// Stop terminates the probe loop and waits for it to exit. Safe to call
// more than once, or without a prior Start.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	if m.started.Load() {
		<-m.done
	}
}

func (m *Monitor) run() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	m.probeAll()
	for {
		select {
		case <-ticker.C:
			m.probeAll()
		case <-m.stop:
			return
		}
	}
}

func (m *Monitor) probeAll() {
	for _, tg := range m.targets {
		m.probe(tg)
	}
}

// probe checks one backend over a pooled connection and records the
// outcome. A failed probe is NOT_SERVING; it never touches the
// breaker.
func (m *Monitor) probe(tg Target) {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.ProbeTimeout)
	defer cancel()

	conn, _ := tg.Pool.Select()

	start := time.Now()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	rtt := time.Since(start)

	record := Record{
		Backend:     tg.Name,
		RTT:         rtt,
		LastChecked: time.Now(),
	}
	switch {
	case err != nil:
		record.Status = StatusNotServing
		record.LastError = err.Error()
	case resp.GetStatus() == healthpb.HealthCheckResponse_SERVING:
		record.Status = StatusServing
	default:
		record.Status = StatusNotServing
	}

	m.mu.Lock()
	previous := m.records[tg.Name].Status
	m.records[tg.Name] = record
	m.mu.Unlock()

	recordProbe(tg.Name, record.Status, rtt)

	if previous == record.Status {
		return
	}

	m.logger.Info("backend health changed",
		zap.String("backend", tg.Name),
		zap.String("previous", string(previous)),
		zap.String("current", string(record.Status)),
		zap.Duration("rtt", rtt),
	)

	if m.bus != nil {
		m.bus.Publish(events.StatusEvent{
			Kind:     events.KindHealth,
			Backend:  tg.Name,
			Previous: string(previous),
			Current:  string(record.Status),
		})
	}
}

// Status returns the latest record for a backend. The second return
// value is false for unknown backends.
func (m *Monitor) Status(backend string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[backend]
	return r, ok
}

// StatusAll returns the latest record for every backend.
func (m *Monitor) StatusAll() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r)
	}
	return records
}
