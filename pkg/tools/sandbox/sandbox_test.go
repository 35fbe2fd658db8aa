package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type fakeRuntime struct {
	mu       sync.Mutex
	endpoint string
	starts   int
	removes  int
	closes   int
	startErr error
}

func (f *fakeRuntime) Start(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	return f.endpoint, f.startErr
}

func (f *fakeRuntime) Remove(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removes++
	return nil
}

func (f *fakeRuntime) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func newKernel(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools:run_ipython_cell" {
			http.NotFound(w, r)
			return
		}
		var req struct {
			Code string `json:"code"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		json.NewEncoder(w).Encode(Result{Output: "ran: " + req.Code})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProviderStartsLazilyAndRemovesOnClose(t *testing.T) {
	rt := &fakeRuntime{endpoint: newKernel(t).URL}
	p := New(rt, "chatd-sandbox-test")

	tl, err := p.Tools(context.Background())
	if err != nil || len(tl) != 1 {
		t.Fatalf("Tools = %v, %v", tl, err)
	}
	if rt.starts != 0 {
		t.Fatalf("starts = %d before first call, want 0", rt.starts)
	}

	for i := 0; i < 2; i++ {
		out, err := tl[0].Execute(context.Background(), map[string]any{"code": "1+1"})
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
		if got := out.(*Result).Output; got != "ran: 1+1" {
			t.Errorf("Output = %q", got)
		}
	}
	if rt.starts != 1 {
		t.Errorf("starts = %d, want 1", rt.starts)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if rt.removes != 1 || rt.closes != 1 {
		t.Errorf("removes = %d, closes = %d, want 1, 1", rt.removes, rt.closes)
	}
	if _, err := tl[0].Execute(context.Background(), map[string]any{"code": "1"}); err == nil {
		t.Error("expected error after Close")
	}
}

func TestProviderCloseWithoutStart(t *testing.T) {
	rt := &fakeRuntime{}
	p := New(rt, "unused")
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if rt.removes != 0 {
		t.Errorf("removes = %d, want 0", rt.removes)
	}
}

func TestProviderStartFailure(t *testing.T) {
	rt := &fakeRuntime{startErr: errors.New("no docker")}
	p := New(rt, "x")
	defer p.Close()
	if _, err := p.RunCell(context.Background(), "1"); err == nil {
		t.Fatal("expected start failure")
	}
}
