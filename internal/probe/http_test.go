package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHTTPProbeOK(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != "paced-probe" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewHTTP("ok", srv.URL, nil)
	res, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Probe != "ok" || res.Type != "http" {
		t.Fatalf("unexpected result identity: %+v", res)
	}
	if !strings.Contains(res.Detail, "200") {
		t.Fatalf("Detail = %q, want status in summary", res.Detail)
	}
}

func TestHTTPProbeStatusFailure(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := NewHTTP("down", srv.URL, nil).Run(context.Background()); err == nil {
		t.Fatal("Run succeeded against a 503")
	}
}

func TestHTTPProbeRespectsContext(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewHTTP("slow", srv.URL, nil).Run(ctx); err == nil {
		t.Fatal("Run ignored context deadline")
	}
}
