package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"github.com/webitel/im-forum-delivery/config"
	"github.com/webitel/im-forum-delivery/infra/store"
	"github.com/webitel/im-forum-delivery/internal/domain/model"
	"github.com/webitel/im-forum-delivery/internal/domain/presence"
	"github.com/webitel/im-forum-delivery/internal/domain/registry"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestAppStopClosesOpenStreams(t *testing.T) {
	addr := freeAddr(t)
	cfg, err := config.LoadConfig("", []string{
		"--store.driver=memory",
		"--http.addr=" + addr,
		"--log.level=error",
	})
	require.NoError(t, err)

	var (
		st   store.Store
		reg  registry.Registrar
		pres presence.Presencer
	)
	app := NewApp(cfg, fx.Populate(&st, &reg, &pres))

	startCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.Start(startCtx))

	ctx := context.Background()
	data, err := json.Marshal(model.User{ID: "alice", Name: "Alice"})
	require.NoError(t, err)
	require.NoError(t, st.Set(ctx, "user:alice", string(data), 0))

	resp, err := http.Get("http://" + addr + "/api/stream?userId=alice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			assert.Contains(t, line, `"connected"`)
			break
		}
	}

	live, err := reg.Live(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer stopCancel()
	began := time.Now()
	require.NoError(t, app.Stop(stopCtx))
	assert.Less(t, time.Since(began), 2*time.Second)

	live, err = reg.Live(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)

	active, err := pres.Active(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}
