package curseforge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caedis/mc-manager/internal/apperr"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "semver suffix", in: "ATM10-Server-1.2.0", want: "1.2.0"},
		{name: "trims whitespace", in: "Pack-Server- 2.0.1 ", want: "2.0.1"},
		{name: "non semver token kept raw", in: "Pack-Server-3.4", want: "3.4"},
		{name: "no hyphen", in: "ServerPack", want: "unknown"},
		{name: "leading zeros kept raw", in: "Pack-Server-01.2.0", want: "01.2.0"},
		{name: "hyphen suffix wins", in: "ATM10-Server-1.0.1-hotfix-2", want: "2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractVersion(tt.in); got != tt.want {
				t.Fatalf("ExtractVersion(%q)=%q want=%q", tt.in, got, tt.want)
			}
		})
	}
}

func TestScanVersionDisagreesOnHotfixSuffix(t *testing.T) {
	name := "ATM10-Server-1.0.1-hotfix-2"
	if got := ScanVersion(name); got != "1.0.1" {
		t.Fatalf("ScanVersion(%q)=%q want=1.0.1", name, got)
	}
	if ExtractVersion(name) == ScanVersion(name) {
		t.Fatalf("strategies should disagree on %q", name)
	}
	if got := ScanVersion("Pack-Server-1.2.0"); got != ExtractVersion("Pack-Server-1.2.0") {
		t.Fatalf("strategies should agree on a plain name, scan=%q", got)
	}
	if got := ScanVersion("no digits here"); got != "unknown" {
		t.Fatalf("ScanVersion without version=%q want unknown", got)
	}
}

func TestSelectLatestServerPack(t *testing.T) {
	files := []File{
		{ID: 5, HasServerPack: false, DisplayName: "Pack-Server-9.9.9"},
		{ID: 9, HasServerPack: true, DisplayName: "Pack-Server-1.2.0"},
		{ID: 7, HasServerPack: true, DisplayName: "Pack-Server-1.1.0"},
	}
	got, err := SelectLatestServerPack(files)
	if err != nil {
		t.Fatalf("SelectLatestServerPack failed: %v", err)
	}
	if got.ID != 9 {
		t.Fatalf("id=%d want=9", got.ID)
	}
	if v := ExtractVersion(got.DisplayName); v != "1.2.0" {
		t.Fatalf("version=%q want=1.2.0", v)
	}

	_, err = SelectLatestServerPack([]File{{ID: 1}})
	if !apperr.Is(err, apperr.Lookup) {
		t.Fatalf("no server pack err=%v want lookup", err)
	}
}

func serveFiles(t *testing.T, files []File, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if !strings.HasSuffix(r.URL.Path, "/mods/925200/files") {
			t.Errorf("unexpected path: %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("User-Agent"); got != DefaultUserAgent {
			t.Errorf("unexpected User-Agent header: %q", got)
		}
		resp := filesResponse{Data: files, Pagination: Pagination{PageSize: 50, TotalCount: len(files)}}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			t.Errorf("encoding response: %v", err)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLatestServerPack(t *testing.T) {
	server := serveFiles(t, []File{
		{ID: 5, DisplayName: "Pack-Server-1.3.0"},
		{ID: 9, HasServerPack: true, ServerPackFileID: 91, DisplayName: "Pack-Server-1.2.0"},
		{ID: 7, HasServerPack: true, DisplayName: "Pack-Server-1.1.0"},
	}, nil)

	c := New(server.URL, 0)
	got, err := c.LatestServerPack(context.Background())
	if err != nil {
		t.Fatalf("LatestServerPack failed: %v", err)
	}
	if got.FileID != 9 || got.Version != "1.2.0" {
		t.Fatalf("got id=%d version=%q want id=9 version=1.2.0", got.FileID, got.Version)
	}
	if want := server.URL + "/mods/925200/files/91/download"; got.DownloadURL != want {
		t.Fatalf("download url=%q want=%q", got.DownloadURL, want)
	}
}

func TestDownloadURLFallbacks(t *testing.T) {
	c := New("https://cf.example/api/v1/", 42)
	if got := c.downloadURLFor(&File{ID: 3, DownloadURL: "https://edge.example/f.zip"}); got != "https://edge.example/f.zip" {
		t.Fatalf("download url=%q want explicit downloadUrl", got)
	}
	if got := c.downloadURLFor(&File{ID: 3}); got != "https://cf.example/api/v1/mods/42/files/3/download" {
		t.Fatalf("download url=%q want id based url", got)
	}
}

func TestLatestServerPackUsesDefaultEndpoint(t *testing.T) {
	server := serveFiles(t, []File{{ID: 2, HasServerPack: true, DisplayName: "ATM10-Server-4.0.0"}}, nil)

	parsed, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("url.Parse failed: %v", err)
	}

	oldClient := curseforgeHTTPClient
	curseforgeHTTPClient = &http.Client{
		Transport: &rewriteHostTransport{
			host: parsed.Host,
			rt:   server.Client().Transport,
		},
	}
	t.Cleanup(func() { curseforgeHTTPClient = oldClient })

	got, err := New("", 0).LatestServerPack(context.Background())
	if err != nil {
		t.Fatalf("LatestServerPack failed: %v", err)
	}
	if got.Version != "4.0.0" {
		t.Fatalf("version=%q want=4.0.0", got.Version)
	}
}

func TestListFilesErrorsAreLookupKind(t *testing.T) {
	t.Run("non 200", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := New(server.URL, 0).ListFiles(context.Background())
		if !apperr.Is(err, apperr.Lookup) {
			t.Fatalf("err=%v want lookup", err)
		}
	})

	t.Run("bad json", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("{not json"))
		}))
		defer server.Close()

		_, err := New(server.URL, 0).ListFiles(context.Background())
		if !apperr.Is(err, apperr.Lookup) {
			t.Fatalf("err=%v want lookup", err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		base := server.URL
		server.Close()

		_, err := New(base, 0).LatestServerPack(context.Background())
		if !apperr.Is(err, apperr.Lookup) {
			t.Fatalf("err=%v want lookup", err)
		}
	})
}

func TestLatestServerPackCoalescesConcurrentLookups(t *testing.T) {
	var hits atomic.Int32
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		resp := filesResponse{Data: []File{{ID: 1, HasServerPack: true, DisplayName: "P-1.0.0"}}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	c := New(server.URL, 0)
	var wg sync.WaitGroup
	errs := make([]error, 3)
	lookup := func(i int) {
		defer wg.Done()
		_, errs[i] = c.LatestServerPack(context.Background())
	}

	wg.Add(1)
	go lookup(0)
	<-arrived
	for i := 1; i < len(errs); i++ {
		wg.Add(1)
		go lookup(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("lookup %d failed: %v", i, err)
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("requests=%d want=1", got)
	}
}

type rewriteHostTransport struct {
	host string
	rt   http.RoundTripper
}

func (t *rewriteHostTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cloned := req.Clone(req.Context())
	cloned.URL.Scheme = "http"
	cloned.URL.Host = t.host
	return t.rt.RoundTrip(cloned)
}
