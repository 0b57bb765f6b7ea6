package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
)

func TestConnectionRows(t *testing.T) {
	st := &model.Stats{ConnectionsPerUser: map[string]int{"bob": 1, "alice": 3, "carol": 1, "dave": 2}}

	rows := connectionRows(st, 3)
	assert.Equal(t, [][]string{
		{"user", "connections"},
		{"alice", "3"},
		{"dave", "2"},
		{"bob", "1"},
	}, rows)
}

func TestAppendBounded(t *testing.T) {
	var data []float64
	for i := range 5 {
		data = appendBounded(data, float64(i), 3)
	}
	assert.Equal(t, []float64{2, 3, 4}, data)
}

func TestDashboardThroughput(t *testing.T) {
	d := newDashboard()
	d.update(&model.Stats{EnqueuedTotal: 10}, nil)
	assert.Empty(t, d.spark.Data, "first sample only primes the counter")

	d.update(&model.Stats{EnqueuedTotal: 14, LiveConnections: 2}, nil)
	assert.Equal(t, []float64{4}, d.spark.Data)
	assert.Contains(t, d.summary.Text, "live connections  2")
}

func TestProvideLoggerWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "delivery.log")
	cfg := &config.Config{Log: config.LogConfig{Level: "debug", Format: "json", File: path, MaxSizeMB: 1}}

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := ProvideLogger(nil, cfg)
	logger.Debug("LOGGER_READY", "k", "v")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "LOGGER_READY", rec["msg"])
	assert.Equal(t, ServiceName, rec["service"])
}

func TestTeeHandlerRespectsLevels(t *testing.T) {
	var a, b recorder
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	h := teeHandler{&a, leveled{&b, lvl}}

	logger := slog.New(h)
	logger.Info("info")
	logger.Warn("warn")

	assert.Equal(t, []string{"info", "warn"}, a.msgs)
	assert.Equal(t, []string{"warn"}, b.msgs)
}

type recorder struct{ msgs []string }

func (r *recorder) Enabled(context.Context, slog.Level) bool { return true }
func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	r.msgs = append(r.msgs, rec.Message)
	return nil
}
func (r *recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recorder) WithGroup(string) slog.Handler      { return r }
