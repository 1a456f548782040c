package geocode

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"bra_notification_bot/internal/domain/geocode"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestGoogleGeocoder(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     *geocode.Place
		wantErr  bool
	}{
		{
			name: "found",
			response: `{"status":"OK","results":[{"formatted_address":"73440 Val Thorens, France",
				"geometry":{"location":{"lat":45.2981,"lng":6.5800}}}]}`,
			want: &geocode.Place{Lat: 45.2981, Lng: 6.58, Name: "73440 Val Thorens, France"},
		},
		{name: "zero results", response: `{"status":"ZERO_RESULTS","results":[]}`},
		{name: "denied", response: `{"status":"REQUEST_DENIED","error_message":"bad key"}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/maps/api/geocode/json" {
					t.Errorf("path = %s", r.URL.Path)
				}
				if q := r.URL.Query(); q.Get("address") != "val thorens" || q.Get("region") != "fr" || q.Get("key") != "k" {
					t.Errorf("query = %s", r.URL.RawQuery)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tt.response)
			}))
			defer srv.Close()

			g, err := NewGoogleGeocoder(GoogleConfig{APIKey: "k", BaseURL: srv.URL}, discardLogger())
			if err != nil {
				t.Fatal(err)
			}
			got, err := g.Geocode(context.Background(), "val thorens")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.want == nil {
				if got != nil {
					t.Errorf("got %+v, want nil", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

type stubGeocoder struct {
	calls int
	place *geocode.Place
	err   error
}

func (s *stubGeocoder) Geocode(context.Context, string) (*geocode.Place, error) {
	s.calls++
	return s.place, s.err
}

type memoryCache struct {
	entries   map[string]*geocode.Place
	lookupErr error
	storeErr  error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string]*geocode.Place{}}
}

func (m *memoryCache) Lookup(_ context.Context, q string) (*geocode.Place, bool, error) {
	if m.lookupErr != nil {
		return nil, false, m.lookupErr
	}
	p, ok := m.entries[q]
	return p, ok, nil
}

func (m *memoryCache) Store(_ context.Context, q string, p *geocode.Place) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.entries[q] = p
	return nil
}

func TestCachedGeocoderHitsSkipUpstream(t *testing.T) {
	upstream := &stubGeocoder{place: &geocode.Place{Lat: 45.3, Lng: 6.58, Name: "Val Thorens"}}
	cache := newMemoryCache()
	g := NewCachedGeocoder(upstream, cache, discardLogger())

	for _, q := range []string{"Val-Thorens", "  val thorens ", "VAL THORENS"} {
		p, err := g.Geocode(context.Background(), q)
		if err != nil || p == nil || p.Name != "Val Thorens" {
			t.Fatalf("Geocode(%q) = %+v, %v", q, p, err)
		}
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}
}

func TestCachedGeocoderCachesMisses(t *testing.T) {
	upstream := &stubGeocoder{}
	cache := newMemoryCache()
	g := NewCachedGeocoder(upstream, cache, discardLogger())

	for i := 0; i < 2; i++ {
		p, err := g.Geocode(context.Background(), "nulle part")
		if err != nil || p != nil {
			t.Fatalf("got %+v, %v", p, err)
		}
	}
	if upstream.calls != 1 {
		t.Errorf("upstream calls = %d, want 1", upstream.calls)
	}
}

func TestCachedGeocoderDegradesOnCacheErrors(t *testing.T) {
	upstream := &stubGeocoder{place: &geocode.Place{Name: "Chamonix"}}
	cache := newMemoryCache()
	cache.lookupErr = errors.New("db down")
	cache.storeErr = errors.New("db down")
	g := NewCachedGeocoder(upstream, cache, discardLogger())

	p, err := g.Geocode(context.Background(), "chamonix")
	if err != nil || p == nil || p.Name != "Chamonix" {
		t.Fatalf("got %+v, %v", p, err)
	}
}

func TestCachedGeocoderUpstreamErrorNotCached(t *testing.T) {
	upstream := &stubGeocoder{err: errors.New("quota")}
	cache := newMemoryCache()
	g := NewCachedGeocoder(upstream, cache, discardLogger())

	if _, err := g.Geocode(context.Background(), "chamonix"); err == nil {
		t.Fatal("expected error")
	}
	if len(cache.entries) != 0 {
		t.Errorf("error was cached: %v", cache.entries)
	}
}

func TestCachedGeocoderEmptyQuery(t *testing.T) {
	upstream := &stubGeocoder{}
	g := NewCachedGeocoder(upstream, newMemoryCache(), discardLogger())
	if p, err := g.Geocode(context.Background(), " - "); p != nil || err != nil {
		t.Errorf("got %+v, %v", p, err)
	}
	if upstream.calls != 0 {
		t.Error("empty query reached upstream")
	}
}
