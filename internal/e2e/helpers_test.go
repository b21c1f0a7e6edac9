package e2e

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"batchd/internal/httpapi"
	"batchd/internal/manager"
	"batchd/internal/registry"
	"batchd/internal/upstream"
	"batchd/pkg/types"
)

// stack wires the queue and the manager the same way batchd serve does.
type stack struct {
	*upstream.Queue
	mgr *manager.Manager
}

func (s stack) Status() types.StatusResponse { return s.mgr.Status() }
func (s stack) Ready() bool                  { return s.mgr.Ready() }

// createEngineDir lays out one sub-directory per engine id, each holding an
// empty rank0.engine file.
func createEngineDir(t *testing.T, ids ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, id := range ids {
		sub := filepath.Join(dir, id)
		if err := os.MkdirAll(sub, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", sub, err)
		}
		if err := os.WriteFile(filepath.Join(sub, "rank0.engine"), nil, 0o644); err != nil {
			t.Fatalf("write engine: %v", err)
		}
	}
	return dir
}

func newServer(t *testing.T, qcfg upstream.QueueConfig, mcfg manager.ManagerConfig) (*httptest.Server, *manager.Manager) {
	t.Helper()
	q := upstream.NewQueue(qcfg)
	mcfg.Fetch = q.Fetch
	mcfg.Respond = q.Respond
	mcfg.Notify = q.Notify()
	if mcfg.IdlePoll == 0 {
		mcfg.IdlePoll = time.Millisecond
	}
	mgr, err := manager.New(mcfg)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	srv := httptest.NewServer(httpapi.NewMux(stack{Queue: q, mgr: mgr}))
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close()
		q.Close()
	})
	return srv, mgr
}

func newServerForEngine(t *testing.T, dir, id, backend string) (*httptest.Server, *manager.Manager) {
	t.Helper()
	eng, err := registry.Resolve(dir, id)
	if err != nil {
		t.Fatalf("resolve engine: %v", err)
	}
	return newServer(t, upstream.QueueConfig{}, manager.ManagerConfig{Backend: backend, EnginePath: eng.Path})
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// postStatus is safe to call from goroutines other than the test's.
func postStatus(url, payload string) (int, error) {
	resp, err := http.Post(url, "application/json", strings.NewReader(payload))
	if err != nil {
		return 0, err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}
