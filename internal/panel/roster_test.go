package panel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
)

// fakePanel serves a roster of n VPSes with the panel's truncation
// behavior: reslen=0 caps the response at DefaultPageSize, and pages
// are one-based (page=0 aliases page=1, as observed in the wild).
type fakePanel struct {
	total    int
	requests []string
}

func (p *fakePanel) entry(i int) string {
	id := 100 + i
	return fmt.Sprintf(`"%d": {"vpsid": %d, "bandwidth": 1000, "used_bandwidth": %d, "plid": 2}`, id, id, i)
}

func (p *fakePanel) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.requests = append(p.requests, r.URL.RawQuery)

		q := r.URL.Query()
		reslen, _ := strconv.Atoi(q.Get("reslen"))
		page, _ := strconv.Atoi(q.Get("page"))
		if page < 1 {
			page = 1
		}

		size := reslen
		if size <= 0 || size > DefaultPageSize {
			size = DefaultPageSize
		}

		start := (page - 1) * size
		end := start + size
		if start > p.total {
			start = p.total
		}
		if end > p.total {
			end = p.total
		}

		var entries []string
		for i := start; i < end; i++ {
			entries = append(entries, p.entry(i))
		}
		fmt.Fprintf(w, `{"vs": {%s}}`, strings.Join(entries, ","))
	}
}

func TestFetchRosterSmallFleet(t *testing.T) {
	// 12 resources: the initial response is under the truncation
	// threshold, so the probe runs but cannot find more.
	p := &fakePanel{total: 12}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	roster, err := newTestClient(t, srv).FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("FetchRoster failed: %v", err)
	}
	if len(roster) != 12 {
		t.Errorf("got %d snapshots, want 12", len(roster))
	}
}

func TestFetchRosterTruncated(t *testing.T) {
	// 120 resources: the initial response returns exactly the default
	// page size, which must trigger the pagination probe, and the
	// merged roster must contain everything exactly once.
	p := &fakePanel{total: 120}
	srv := httptest.NewServer(p.handler())
	defer srv.Close()

	roster, err := newTestClient(t, srv).FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("FetchRoster failed: %v", err)
	}
	if len(roster) != 120 {
		t.Fatalf("got %d snapshots, want 120", len(roster))
	}
	for i := 0; i < 120; i++ {
		id := strconv.Itoa(100 + i)
		if _, ok := roster[id]; !ok {
			t.Errorf("missing snapshot %s", id)
		}
	}

	probed := false
	for _, q := range p.requests {
		if strings.Contains(q, "page=") {
			probed = true
		}
	}
	if !probed {
		t.Error("expected a pagination probe for a truncated roster")
	}
}

func TestFetchRosterLargeSinglePage(t *testing.T) {
	// A server that returns everything on the first request, above the
	// truncation threshold: no probe should run.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "" {
			t.Errorf("unexpected pagination probe: %s", r.URL.RawQuery)
		}
		var entries []string
		for i := 0; i < 75; i++ {
			entries = append(entries, fmt.Sprintf(`"%d": {"bandwidth": 10, "used_bandwidth": 1, "plid": 1}`, i))
		}
		fmt.Fprintf(w, `{"vs": {%s}}`, strings.Join(entries, ","))
	}))
	defer srv.Close()

	roster, err := newTestClient(t, srv).FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("FetchRoster failed: %v", err)
	}
	if len(roster) != 75 {
		t.Errorf("got %d snapshots, want 75", len(roster))
	}
}

func TestFetchRosterEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"vs": []}`))
	}))
	defer srv.Close()

	roster, err := newTestClient(t, srv).FetchRoster(context.Background())
	if err != nil {
		t.Fatalf("empty roster must not be an error, got: %v", err)
	}
	if len(roster) != 0 {
		t.Errorf("got %d snapshots, want 0", len(roster))
	}
}

func TestFetchRosterErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"missing vs field", http.StatusOK, `{"error": "denied"}`, ErrSchema},
		{"html login page", http.StatusOK, `<!DOCTYPE html><html>login</html>`, ErrMalformedResponse},
		{"not json", http.StatusOK, `vs=nothing`, ErrMalformedResponse},
		{"server error", http.StatusBadGateway, `gateway`, ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv).FetchRoster(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLookupVPS(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if page, _ := strconv.Atoi(q.Get("page")); page > 1 {
			w.Write([]byte(`{"vs": []}`))
			return
		}
		if q.Get("vsstatus") == "s" {
			// Suspended-only subset holds 777, which the default
			// listing omits.
			w.Write([]byte(`{"vs": {"777": {"bandwidth": 50, "used_bandwidth": 5, "plid": 3}}}`))
			return
		}
		w.Write([]byte(`{"vs": {"901": {"bandwidth": 3997, "used_bandwidth": 3, "plid": 2}}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)

	snap, err := c.LookupVPS(context.Background(), "901")
	if err != nil {
		t.Fatalf("LookupVPS(901) failed: %v", err)
	}
	if snap.Bandwidth != 3997 || snap.UsedBandwidth != 3 || snap.PlanID != "2" {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	snap, err = c.LookupVPS(context.Background(), "777")
	if err != nil {
		t.Fatalf("LookupVPS(777) should fall back to the suspended subset: %v", err)
	}
	if snap.PlanID != "3" {
		t.Errorf("unexpected suspended snapshot: %+v", snap)
	}

	_, err = c.LookupVPS(context.Background(), "999")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want %v", err, ErrNotFound)
	}
}
