package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/stone-age-io/shaper/internal/service"
)

// Reporter renders service status on a terminal. The status line is
// printed whenever the state changes; errors additionally produce a
// notification on errOut.
type Reporter struct {
	mu       sync.Mutex
	out      io.Writer
	errOut   io.Writer
	renderer *lipgloss.Renderer
	state    service.ServiceState
	printed  bool
}

var _ service.Reporter = (*Reporter)(nil)

// NewReporter creates a reporter writing to out and errOut. Colors are
// used only when out is a terminal that supports them.
func NewReporter(out, errOut io.Writer) *Reporter {
	return &Reporter{
		out:      out,
		errOut:   errOut,
		renderer: lipgloss.NewRenderer(out),
		state:    service.StateInactive,
	}
}

// State returns the last reported state
func (r *Reporter) State() service.ServiceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Reporter) ReportApplying() {
	r.set(service.StateApplying)
}

func (r *Reporter) ReportState(active bool) {
	r.set(service.StateFromActive(active))
}

func (r *Reporter) ReportError(message string) {
	r.set(service.StateError)

	r.mu.Lock()
	defer r.mu.Unlock()
	style := r.renderer.NewStyle().Foreground(lipgloss.Color(service.StateError.Color()))
	fmt.Fprintln(r.errOut, style.Render("RPC error: "+message))
}

func (r *Reporter) set(state service.ServiceState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.printed && r.state == state {
		return
	}
	r.state = state
	r.printed = true

	fmt.Fprintf(r.out, "Status: %s\n", r.Render(state))
}

// Render styles a state with its color hint
func (r *Reporter) Render(state service.ServiceState) string {
	return r.renderer.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color(state.Color())).
		Render(state.String())
}
