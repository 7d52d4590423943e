package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		name  string
		after time.Duration
		want  int
	}{
		{"zero rounds up to one", 0, 1},
		{"sub-second rounds up", 200 * time.Millisecond, 1},
		{"exact seconds", 3 * time.Second, 3},
		{"partial second rounds up", 3*time.Second + time.Millisecond, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Result{RetryAfter: tt.after}
			assert.Equal(t, tt.want, r.RetryAfterSeconds())
		})
	}
}

func TestNewKeyEscapesDelimiters(t *testing.T) {
	assert.Equal(t, "rl:admin:10.0.0.1", NewKey(ClassAdmin, "10.0.0.1"))
	assert.Equal(t, "rl:pixel:__1", NewKey(ClassPixel, "::1"))
	assert.NotEqual(t, NewKey(ClassAdmin, "a:b"), NewKey(EndpointClass("admin:a"), "b"))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Limits[ClassAdmin] = Limit{RequestsPerWindow: 0, Window: time.Minute}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Limits[EndpointClass("bogus")] = Limit{RequestsPerWindow: 1, Window: time.Second}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.GlobalRPS = -1
	assert.Error(t, cfg.Validate())
}

func TestDefaultConfigCoversEveryClass(t *testing.T) {
	cfg := DefaultConfig()
	for _, class := range Classes() {
		_, ok := cfg.LimitFor(class)
		assert.True(t, ok, class)
	}
	relay, _ := cfg.LimitFor(ClassConfigLookup)
	admin, _ := cfg.LimitFor(ClassAdmin)
	assert.Greater(t, relay.RequestsPerWindow, admin.RequestsPerWindow)
}
