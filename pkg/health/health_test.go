// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthStatus(t *testing.T) {
	failing := func(context.Context) error { return errors.New("down") }
	passing := func(context.Context) error { return nil }

	tests := []struct {
		name   string
		checks map[string]CheckFunc
		want   Status
	}{
		{"no checks", nil, StatusHealthy},
		{"all pass", map[string]CheckFunc{"a": passing, "b": passing}, StatusHealthy},
		{"some fail", map[string]CheckFunc{"a": passing, "b": failing}, StatusDegraded},
		{"all fail", map[string]CheckFunc{"a": failing, "b": failing}, StatusUnhealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(time.Minute)
			for name, fn := range tt.checks {
				c.Register(name, fn)
			}
			status, checks := c.Health(context.Background())
			assert.Equal(t, tt.want, status)
			assert.Len(t, checks, len(tt.checks))
		})
	}
}

func TestHealthCaching(t *testing.T) {
	var calls atomic.Int32
	c := NewChecker(time.Hour)
	c.Register("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())
	assert.Equal(t, int32(1), calls.Load())

	// Re-registering drops the cached result.
	c.Register("counted", func(context.Context) error {
		calls.Add(1)
		return nil
	})
	c.Health(context.Background())
	assert.Equal(t, int32(2), calls.Load())
}

func TestDeviceCheck(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "ttyUSB0")
	require.NoError(t, os.WriteFile(present, nil, 0o600))

	assert.NoError(t, DeviceCheck(present)(context.Background()))

	err := DeviceCheck(filepath.Join(dir, "ttyUSB1"))(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestShutdownCheck(t *testing.T) {
	var down atomic.Bool
	check := ShutdownCheck(down.Load)
	assert.NoError(t, check(context.Background()))
	down.Store(true)
	assert.Error(t, check(context.Background()))
}

func TestHandlers(t *testing.T) {
	c := NewChecker(time.Nanosecond)
	var fail atomic.Bool
	c.Register("device:dev1", func(context.Context) error {
		if fail.Load() {
			return errors.New("missing")
		}
		return nil
	})
	c.Register("shutdown", func(context.Context) error { return nil })

	get := func(h http.HandlerFunc) (int, map[string]any) {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return rec.Code, body
	}

	code, body := get(c.HTTPHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])

	code, _ = get(c.ReadinessHandler())
	assert.Equal(t, http.StatusOK, code)

	fail.Store(true)
	time.Sleep(time.Millisecond)

	code, body = get(c.HTTPHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "degraded", body["status"])

	code, _ = get(c.ReadinessHandler())
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, body = get(LivenessHandler())
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])
}
