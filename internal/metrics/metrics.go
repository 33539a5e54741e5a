// Package metrics exposes prometheus collectors for every pipeline stage.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fusion"

// Metrics holds the pipeline collectors.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	messagesReceived *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	syncMatched      *prometheus.CounterVec
	syncDropped      *prometheus.CounterVec
	gateDecisions    *prometheus.CounterVec
	assemblyFailures *prometheus.CounterVec
	assemblyDuration *prometheus.HistogramVec
	emitted          *prometheus.CounterVec
	emitDropped      *prometheus.CounterVec
	commandCalls     *prometheus.CounterVec
}

func newCounterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// New creates the collectors. A nil registerer selects the default one.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		registerer:       registerer,
		messagesReceived: newCounterVec("transport", "messages_received_total", "Messages received per topic", "topic"),
		decodeErrors:     newCounterVec("transport", "decode_errors_total", "Payloads that failed to decode per topic", "topic"),
		syncMatched:      newCounterVec("sync", "matched_total", "Tuples released by a synchronizer", "sync"),
		syncDropped:      newCounterVec("sync", "dropped_total", "Messages discarded by a synchronizer", "sync", "reason"),
		gateDecisions:    newCounterVec("gate", "decisions_total", "Rate gate decisions", "decision"),
		assemblyFailures: newCounterVec("assembler", "failures_total", "Aborted assembly cycles", "reason"),
		assemblyDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "assembler",
				Name:      "duration_seconds",
				Help:      "Time spent assembling one observation",
				Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
			[]string{"entry"},
		),
		emitted:      newCounterVec("emitter", "emitted_total", "Events handed to the consumer", "kind"),
		emitDropped:  newCounterVec("emitter", "dropped_total", "Events dropped because the hand-off queue was full", "kind"),
		commandCalls: newCounterVec("command", "calls_total", "External service calls", "service", "result"),
	}
}

// Register registers the collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered {
		return nil
	}
	collectors := []prometheus.Collector{
		m.messagesReceived, m.decodeErrors, m.syncMatched, m.syncDropped, m.gateDecisions,
		m.assemblyFailures, m.assemblyDuration, m.emitted, m.emitDropped, m.commandCalls,
	}
	for _, c := range collectors {
		if err := m.registerer.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	m.registered = true
	return nil
}

// MessageReceived counts one message on topic.
func (m *Metrics) MessageReceived(topic string) {
	if m != nil {
		m.messagesReceived.WithLabelValues(topic).Inc()
	}
}

// DecodeError counts one undecodable payload on topic.
func (m *Metrics) DecodeError(topic string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(topic).Inc()
	}
}

// SyncMatched counts a released tuple.
func (m *Metrics) SyncMatched(sync string) {
	if m != nil {
		m.syncMatched.WithLabelValues(sync).Inc()
	}
}

// SyncDropped counts a discarded message.
func (m *Metrics) SyncDropped(sync, reason string) {
	if m != nil {
		m.syncDropped.WithLabelValues(sync, reason).Inc()
	}
}

// GateDecision counts one rate gate decision.
func (m *Metrics) GateDecision(decision string) {
	if m != nil {
		m.gateDecisions.WithLabelValues(decision).Inc()
	}
}

// AssemblyFailed counts an aborted cycle.
func (m *Metrics) AssemblyFailed(reason string) {
	if m != nil {
		m.assemblyFailures.WithLabelValues(reason).Inc()
	}
}

// ObserveAssembly records the duration of one assembly attempt.
func (m *Metrics) ObserveAssembly(entry string, d time.Duration) {
	if m != nil {
		m.assemblyDuration.WithLabelValues(entry).Observe(d.Seconds())
	}
}

// Emitted counts an event accepted by the emitter.
func (m *Metrics) Emitted(kind string) {
	if m != nil {
		m.emitted.WithLabelValues(kind).Inc()
	}
}

// EmitDropped counts an event the emitter rejected.
func (m *Metrics) EmitDropped(kind string) {
	if m != nil {
		m.emitDropped.WithLabelValues(kind).Inc()
	}
}

// CommandCall counts one external service call.
func (m *Metrics) CommandCall(service string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.commandCalls.WithLabelValues(service, result).Inc()
}
