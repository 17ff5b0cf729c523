package metrics

import (
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

const namespace = "shaper_agent"

// Registry holds the agent's own metrics. It is not the global prometheus
// registry so tests and multiple agents in one process stay isolated.
// A nil *Registry is valid and records nothing.
type Registry struct {
	reg *prometheus.Registry

	commandsTotal      *prometheus.CounterVec
	serviceActions     *prometheus.CounterVec
	statusProbes       *prometheus.CounterVec
	serviceActive      *prometheus.GaugeVec
	telemetryPublished *prometheus.CounterVec
}

// New creates a registry with the agent collectors plus Go runtime and
// process collectors
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Remote commands handled, by command and result",
		}, []string{"command", "result"}),
		serviceActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "service_actions_total",
			Help:      "Lifecycle actions requested, by service, action and result",
		}, []string{"service", "action", "result"}),
		statusProbes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_probes_total",
			Help:      "Service status probes, by probe kind and result",
		}, []string{"probe", "result"}),
		serviceActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_active",
			Help:      "1 if the service was last observed active",
		}, []string{"service"}),
		telemetryPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_published_total",
			Help:      "Telemetry messages published, by kind and result",
		}, []string{"kind", "result"}),
	}

	r.reg.MustRegister(
		r.commandsTotal,
		r.serviceActions,
		r.statusProbes,
		r.serviceActive,
		r.telemetryPublished,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveCommand counts one handled remote command
func (r *Registry) ObserveCommand(command string, err error) {
	if r == nil {
		return
	}
	r.commandsTotal.WithLabelValues(command, result(err)).Inc()
}

// ObserveServiceAction counts one lifecycle action request
func (r *Registry) ObserveServiceAction(service, action string, err error) {
	if r == nil {
		return
	}
	r.serviceActions.WithLabelValues(service, action, result(err)).Inc()
}

// ObserveProbe counts one status probe
func (r *Registry) ObserveProbe(probe string, err error) {
	if r == nil {
		return
	}
	r.statusProbes.WithLabelValues(probe, result(err)).Inc()
}

// SetServiceActive records the last observed activity of a service
func (r *Registry) SetServiceActive(service string, active bool) {
	if r == nil {
		return
	}
	v := float64(0)
	if active {
		v = 1
	}
	r.serviceActive.WithLabelValues(service).Set(v)
}

// ObserveTelemetry counts one telemetry publish
func (r *Registry) ObserveTelemetry(kind string, err error) {
	if r == nil {
		return
	}
	r.telemetryPublished.WithLabelValues(kind, result(err)).Inc()
}

// Gather returns the current metric families
func (r *Registry) Gather() ([]*dto.MetricFamily, error) {
	if r == nil {
		return nil, nil
	}
	return r.reg.Gather()
}

// WriteText writes every metric family in the Prometheus text format
func (r *Registry) WriteText(w io.Writer) error {
	families, err := r.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	enc := expfmt.NewEncoder(w, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	return nil
}

// Parse decodes a Prometheus text exposition into metric families keyed by name
func Parse(reader io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(reader, expfmt.NewFormat(expfmt.TypeTextPlain))
	families := make(map[string]*dto.MetricFamily)

	for {
		mf := &dto.MetricFamily{}
		if err := decoder.Decode(mf); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("failed to decode metrics: %w", err)
		}
		families[mf.GetName()] = mf
	}

	return families, nil
}

// Names returns the sorted family names
func Names(families map[string]*dto.MetricFamily) []string {
	names := make([]string, 0, len(families))
	for name := range families {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Value returns the value of a counter, gauge or untyped sample
func Value(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}
