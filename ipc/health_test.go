package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthMonitorEscalatesOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultHealthMonitorConfig()
	cfg.CheckInterval = 5 * time.Millisecond
	cfg.CheckTimeout = 50 * time.Millisecond
	cfg.DegradedThreshold = 2
	cfg.UnhealthyThreshold = 3
	cfg.CriticalThreshold = 5

	hm := NewHealthMonitor(cfg)
	t.Cleanup(hm.Stop)

	hm.RegisterComponent("flaky", func(ctx context.Context) error {
		return errors.New("down")
	})

	require.Eventually(t, func() bool {
		snap := hm.Snapshot()
		return snap["flaky"].Status == HealthCritical
	}, time.Second, 5*time.Millisecond)
}

func TestHealthMonitorMarksPassingComponentHealthy(t *testing.T) {
	hm := NewHealthMonitor(&HealthMonitorConfig{
		CheckInterval: 5 * time.Millisecond,
		CheckTimeout:  50 * time.Millisecond,
	})
	t.Cleanup(hm.Stop)

	hm.RegisterComponent("ok", func(ctx context.Context) error { return nil })

	require.Eventually(t, func() bool {
		return hm.Snapshot()["ok"].Status == HealthHealthy
	}, time.Second, 5*time.Millisecond)
}

func TestRegisterStatsHandlersServesGetStatsAndMemInfo(t *testing.T) {
	h0 := NewHandlerTable()
	h1 := NewHandlerTable()

	hm := NewHealthMonitor(DefaultHealthMonitorConfig())
	t.Cleanup(hm.Stop)
	hm.RegisterComponent("core", func(ctx context.Context) error { return nil })

	w0, w1 := wireTwoWorkers(t, h0, h1)
	RegisterStatsHandlers(w1, hm)

	resp, err := w0.Get(context.Background(), MsgGetStats, 1, nil, time.Second)
	require.NoError(t, err)
	var snap map[string]ComponentHealth
	require.NoError(t, json.Unmarshal(resp, &snap))
	require.Contains(t, snap, "core")

	memResp, err := w0.Get(context.Background(), MsgMemInfo, 1, nil, time.Second)
	require.NoError(t, err)
	var mem memInfoSnapshot
	require.NoError(t, json.Unmarshal(memResp, &mem))
	require.Greater(t, mem.NumGoroutine, 0)
}
