package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	natsclient "github.com/stone-age-io/shaper/internal/nats"
	"github.com/stone-age-io/shaper/internal/service"
	"github.com/stone-age-io/shaper/internal/utils"
	"gopkg.in/yaml.v3"
)

type resultView struct {
	Service        string  `json:"service"`
	Action         string  `json:"action"`
	Outcome        string  `json:"outcome"`
	State          string  `json:"state"`
	Error          string  `json:"error,omitempty"`
	Probes         int     `json:"probes"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

type statusView struct {
	Device  string `json:"device"`
	Service string `json:"service"`
	Active  bool   `json:"active"`
	State   string `json:"state"`
}

type pingView struct {
	Status    string  `json:"status"`
	DeviceID  string  `json:"device_id"`
	Timestamp string  `json:"timestamp"`
	RTTMillis float64 `json:"rtt_ms"`
}

type metricSample struct {
	Name   string            `json:"name"`
	Labels map[string]string `json:"labels,omitempty"`
	Value  float64           `json:"value"`
}

// printer renders command output in the selected format
type printer struct {
	w      io.Writer
	format string
}

func newPrinter(w io.Writer, format string) (*printer, error) {
	switch format {
	case "text", "json", "yaml":
		return &printer{w: w, format: format}, nil
	default:
		return nil, fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

func (p *printer) text() bool {
	return p.format == "text"
}

// encode writes v as JSON or YAML. YAML goes through JSON first so both
// formats share the json field names.
func (p *printer) encode(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	if p.format == "json" {
		_, err = fmt.Fprintln(p.w, string(data))
		return err
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

func newResultView(r service.Result) resultView {
	view := resultView{
		Service:        r.Service,
		Action:         string(r.Action),
		Outcome:        r.Outcome.String(),
		State:          service.StateError.String(),
		Probes:         r.Probes,
		ElapsedSeconds: utils.Seconds(r.Elapsed),
	}
	if r.OK() {
		view.State = service.StateFromActive(service.ExpectedOutcome(r.Action)).String()
	}
	if r.Err != nil {
		view.Error = r.Err.Error()
	}
	return view
}

func (p *printer) result(r service.Result) error {
	view := newResultView(r)
	if !p.text() {
		return p.encode(view)
	}

	if !r.OK() {
		// The reporter already printed the error
		return nil
	}
	_, err := fmt.Fprintf(p.w, "%s %s %s in %.2fs (%d probes)\n",
		view.Service, view.Action, view.Outcome, view.ElapsedSeconds, view.Probes)
	return err
}

func (p *printer) ping(resp *natsclient.PingResponse, rtt time.Duration) error {
	view := pingView{
		Status:    resp.Status,
		DeviceID:  resp.DeviceID,
		Timestamp: resp.Timestamp,
		RTTMillis: utils.Round(float64(rtt.Microseconds()) / 1000),
	}
	if !p.text() {
		return p.encode(view)
	}
	_, err := fmt.Fprintf(p.w, "%s from %s in %.2fms\n", view.Status, view.DeviceID, view.RTTMillis)
	return err
}

func (p *printer) health(resp *natsclient.HealthResponse) error {
	if !p.text() {
		return p.encode(resp)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", resp.Status)
	if m := resp.AgentMetrics; m != nil {
		fmt.Fprintf(tw, "uptime\t%s\n", time.Duration(m.UptimeSeconds)*time.Second)
		fmt.Fprintf(tw, "memory\t%.2f MB\n", m.MemoryUsageMB)
		fmt.Fprintf(tw, "goroutines\t%d\n", m.Goroutines)
		fmt.Fprintf(tw, "commands\t%d processed, %d errored\n", m.CommandsProcessed, m.CommandsErrored)
		if m.LastError != "" {
			fmt.Fprintf(tw, "last error\t%s (%s)\n", m.LastError, m.LastErrorTime)
		}
	}
	if t := resp.TaskMetrics; t != nil {
		fmt.Fprintf(tw, "heartbeats\t%d (last %s)\n", t.HeartbeatCount, orDash(t.LastHeartbeat))
		fmt.Fprintf(tw, "service checks\t%d, %d errored (last %s)\n",
			t.ServiceCheckCount, t.ServiceCheckErrors, orDash(t.LastServiceCheck))
	}
	if c := resp.Connection; c != nil {
		fmt.Fprintf(tw, "nats\tconnected=%t reconnects=%d in=%d out=%d\n",
			c.Connected, c.Reconnects, c.InMsgs, c.OutMsgs)
	}
	fmt.Fprintf(tw, "timestamp\t%s\n", resp.Timestamp)
	return tw.Flush()
}

func (p *printer) metrics(samples []metricSample) error {
	if !p.text() {
		return p.encode(samples)
	}

	tw := tabwriter.NewWriter(p.w, 0, 0, 2, ' ', 0)
	for _, s := range samples {
		fmt.Fprintf(tw, "%s%s\t%g\n", s.Name, formatLabels(s.Labels), s.Value)
	}
	return tw.Flush()
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, labels[k])
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
