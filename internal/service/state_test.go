package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpectedOutcome(t *testing.T) {
	assert.False(t, ExpectedOutcome(ActionStop))
	assert.True(t, ExpectedOutcome(ActionStart))
	assert.True(t, ExpectedOutcome(ActionRestart))
	assert.True(t, ExpectedOutcome(ActionReload))
}

func TestParseAction(t *testing.T) {
	tests := []struct {
		input   string
		want    Action
		wantErr bool
	}{
		{input: "start", want: ActionStart},
		{input: "stop", want: ActionStop},
		{input: "restart", want: ActionRestart},
		{input: "reload", want: ActionReload},
		{input: " Restart ", want: ActionRestart},
		{input: "enable", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAction(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid action")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServiceStateText(t *testing.T) {
	assert.Equal(t, "APPLYING...", StateApplying.String())
	assert.Equal(t, "ACTIVE", StateActive.String())
	assert.Equal(t, "INACTIVE", StateInactive.String())
	assert.Equal(t, "ERROR", StateError.String())

	assert.Equal(t, StateActive, StateFromActive(true))
	assert.Equal(t, StateInactive, StateFromActive(false))
	assert.NotEqual(t, StateActive.Color(), StateError.Color())
}
