package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/board"
	"prism-board/domain"
	"prism-board/events"
	"prism-board/realtime"
	"prism-board/realtime/realtimetest"
	"prism-board/subscription"
)

func newTestStack(t *testing.T) (*realtime.Manager, *board.Engine, *events.Hook, *prometheus.Registry) {
	t.Helper()
	logger, _ := test.NewNullLogger()
	reg := prometheus.NewRegistry()
	mgr := realtime.NewManager(realtime.Config{
		Endpoint:    "ws://board.test/ws",
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		MaxAttempts: 1,
	}, &realtimetest.Transport{}, logger, realtime.NewMetrics(reg))
	t.Cleanup(mgr.Disconnect)
	bus := events.NewBus(subscription.NewRegistry(mgr, logger), mgr, logger)
	hook := bus.Hook("support", events.TopicSupportMessages, 5)
	engine := board.NewEngine(board.Config{GroupID: "g1"}, nil, nil, logger)
	engine.Insert(domain.Task{ID: "t1", GroupID: "g1", Title: "One", Status: domain.StatusTodo})
	return mgr, engine, hook, reg
}

func TestStatusServerHealth(t *testing.T) {
	mgr, engine, hook, reg := newTestStack(t)
	srv := newStatusServer(mgr, engine, hook, reg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"DISCONNECTED"`)

	mgr.Connect()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, mgr.WaitConnected(ctx))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"CONNECTED"`)
}

func TestStatusServerBoardAndMetrics(t *testing.T) {
	mgr, engine, hook, reg := newTestStack(t)
	srv := newStatusServer(mgr, engine, hook, reg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/board", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"t1"`)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "prism_board_realtime_connection_state"))
}

func TestNotifyLogsFailuresAsWarn(t *testing.T) {
	logger, hook := test.NewNullLogger()
	notify(logger, board.Notification{Kind: board.KindPermissionDenied, TaskID: "t1", Message: "not allowed", Err: domain.ErrPermissionDenied})
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "warning", hook.LastEntry().Level.String())
	assert.Equal(t, "permission_denied", hook.LastEntry().Data["kind"])

	notify(logger, board.Notification{Kind: board.KindStatusChanged, TaskID: "t1", Message: "moved"})
	assert.Equal(t, "info", hook.LastEntry().Level.String())
}

type stubDirectory struct{}

func (stubDirectory) ListMembers(context.Context, string) ([]domain.Member, error) {
	return []domain.Member{{ID: "u1", Name: "Ada"}}, nil
}

func (stubDirectory) ListFutureExpenses(context.Context, string) ([]domain.ExpenseLink, error) {
	return []domain.ExpenseLink{{ID: "x1", Amount: 12.5}}, nil
}

func TestStatusServerCandidates(t *testing.T) {
	mgr, engine, hook, reg := newTestStack(t)
	srv := newStatusServer(mgr, engine, hook, reg)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/board/candidates", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, engine.LoadCandidates(context.Background(), stubDirectory{}))
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/board/candidates", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"u1"`)
	assert.Contains(t, rec.Body.String(), `"x1"`)
}
