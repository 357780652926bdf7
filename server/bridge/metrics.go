package bridge

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/livebridge/livebridge/common/ipc"
)

// HostCommands are the command names that get their own metrics label.
// Any other name is recorded as "other" so callers cannot grow the label set.
var HostCommands = []string{
	"get_session_info", "get_track_info", "get_device_parameters",
	"create_midi_track", "create_return_track", "set_track_name",
	"set_tempo", "start_playback", "stop_playback",
	"set_device_parameter", "set_track_volume", "set_send_level",
	"create_clip", "add_notes_to_clip", "set_clip_name", "fire_clip", "stop_clip",
	"load_browser_item", "get_browser_tree", "get_browser_items_at_path",
}

const (
	labelOther   = "other"
	labelInvalid = "invalid"
)

// Metrics holds the bridge's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	known map[string]struct{}

	commands        *prometheus.CounterVec   // executes by command and outcome
	duration        *prometheus.HistogramVec // execute latency by command
	connectionState prometheus.Gauge         // current ConnState as a number
	reconnects      prometheus.Counter       // successful connects after the first
	connects        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. extra
// adds command names to label on top of HostCommands.
func NewMetrics(reg prometheus.Registerer, extra ...string) (*Metrics, error) {
	m := &Metrics{
		known: make(map[string]struct{}, len(HostCommands)+len(extra)),

		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "livebridge",
			Subsystem: "bridge",
			Name:      "commands_total",
			Help:      "Commands executed against the host, by outcome",
		}, []string{"command", "outcome"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "livebridge",
			Subsystem: "bridge",
			Name:      "command_duration_seconds",
			Help:      "Time from Execute to terminal outcome",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"command"}),

		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "livebridge",
			Subsystem: "bridge",
			Name:      "connection_state",
			Help:      "Host connection state (0=disconnected, 1=connecting, 2=connected, 3=draining)",
		}),

		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livebridge",
			Subsystem: "bridge",
			Name:      "reconnects_total",
			Help:      "Connections established after the first one",
		}),

		connects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "livebridge",
			Subsystem: "bridge",
			Name:      "connects_total",
			Help:      "Connections established to the host",
		}),
	}

	for _, name := range append(append([]string(nil), HostCommands...), extra...) {
		m.known[name] = struct{}{}
	}

	for _, c := range []prometheus.Collector{m.commands, m.duration, m.connectionState, m.reconnects, m.connects} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observe(command string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	label := m.label(command, err)
	m.commands.WithLabelValues(label, ipc.Classify(err)).Inc()
	m.duration.WithLabelValues(label).Observe(elapsed.Seconds())
}

func (m *Metrics) label(command string, err error) string {
	if errors.Is(err, ipc.ErrInvalidCommand) {
		return labelInvalid
	}
	if _, ok := m.known[command]; ok {
		return command
	}
	return labelOther
}

// StateHook returns an OnStateChange callback feeding the state gauge and
// connect counters. Chain it with next, which may be nil.
func (m *Metrics) StateHook(next func(from, to ConnState)) func(from, to ConnState) {
	if m == nil {
		return next
	}
	var connected bool
	return func(from, to ConnState) {
		m.connectionState.Set(float64(to))
		if to == StateConnected {
			m.connects.Inc()
			if connected {
				m.reconnects.Inc()
			}
			connected = true
		}
		if next != nil {
			next(from, to)
		}
	}
}
