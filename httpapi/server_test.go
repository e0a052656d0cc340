package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/rowdb/rowdb/database/file"
	"github.com/rowdb/rowdb/queue"
	"github.com/rowdb/rowdb/service"
)

func newTestServer(t *testing.T) (*Server, context.Context) {
	t.Helper()
	dir := t.TempDir()
	db, err := file.Open(filepath.Join(dir, "data.csv"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	q := queue.NewLocalQueue()
	svc := service.New(db, q, db, 0.01, 100)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)
	t.Cleanup(svc.Stop)

	require.NoError(t, svc.Init(ctx, []string{"id", "name"}))
	return NewServer(svc, ":0", 10), ctx
}

func TestHandleInit(t *testing.T) {
	s, _ := newTestServer(t)

	body, _ := json.Marshal(initRequest{Columns: []string{"id", "name", "city"}})
	req := httptest.NewRequest(http.MethodPost, "/init", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleInit(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleJobThenQuery(t *testing.T) {
	s, _ := newTestServer(t)

	jobBody, _ := json.Marshal(jobRequest{Job: `INSERT "1","alice"`})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(jobBody))
	w := httptest.NewRecorder()
	s.handleJob(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, `/?query=id+%3D%3D+%221%22`, nil)
		w := httptest.NewRecorder()
		s.handleQuery(w, req)
		if w.Code != http.StatusOK {
			return false
		}
		var resp resultResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp.Result == "1,alice"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleQueryMissingParam(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.handleQuery(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleJobMissingParam(t *testing.T) {
	s, _ := newTestServer(t)
	body, _ := json.Marshal(jobRequest{})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.handleJob(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBoundedWorkerPoolLimitsConcurrency(t *testing.T) {
	s, _ := newTestServer(t)
	s.sem = semaphore.NewWeighted(1)

	blockCtx, unblock := context.WithCancel(context.Background())
	defer unblock()

	started := make(chan struct{})
	go func() {
		req := httptest.NewRequest(http.MethodGet, `/?query=id+%3D%3D+%221%22`, nil).WithContext(blockCtx)
		require.NoError(t, s.sem.Acquire(context.Background(), 1))
		close(started)
		<-blockCtx.Done()
		s.sem.Release(1)
		_ = req
	}()
	<-started

	req := httptest.NewRequest(http.MethodGet, `/?query=id+%3D%3D+%221%22`, nil)
	acquireCtx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req = req.WithContext(acquireCtx)
	w := httptest.NewRecorder()
	s.handleQuery(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandleRootMethodNotAllowed(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	w := httptest.NewRecorder()
	s.handleRoot(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}
