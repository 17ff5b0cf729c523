package console

import (
	"bytes"
	"testing"

	"github.com/stone-age-io/shaper/internal/service"
	"github.com/stretchr/testify/assert"
)

func TestReporterPrintsStateChanges(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewReporter(&out, &errOut)

	r.ReportApplying()
	r.ReportState(false)
	r.ReportState(false)
	r.ReportState(true)
	r.ReportState(true)

	assert.Equal(t, "Status: APPLYING...\nStatus: INACTIVE\nStatus: ACTIVE\n", out.String())
	assert.Empty(t, errOut.String())
	assert.Equal(t, service.StateActive, r.State())
}

func TestReporterErrorNotification(t *testing.T) {
	var out, errOut bytes.Buffer
	r := NewReporter(&out, &errOut)

	r.ReportApplying()
	r.ReportError("timeout waiting for mac-shaper")
	r.ReportError("timeout waiting for mac-shaper")

	assert.Equal(t, "Status: APPLYING...\nStatus: ERROR\n", out.String())
	// Every error is notified even when the state line does not change
	assert.Equal(t, "RPC error: timeout waiting for mac-shaper\nRPC error: timeout waiting for mac-shaper\n", errOut.String())
	assert.Equal(t, service.StateError, r.State())
}

func TestReporterFirstStateIsAlwaysPrinted(t *testing.T) {
	var out bytes.Buffer
	r := NewReporter(&out, &bytes.Buffer{})

	r.ReportState(false)
	assert.Equal(t, "Status: INACTIVE\n", out.String())
}
