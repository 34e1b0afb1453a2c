package lib

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/opencontainers/go-digest"
)

func newRegistryServer(t *testing.T, dgst digest.Digest) (*httptest.Server, *int) {
	t.Helper()
	tokenRequests := 0
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		if r.URL.Query().Get("service") != "test-registry" {
			t.Errorf("token request missing challenge params: %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"token": "secret-token"}`)
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			t.Errorf("manifest request used %s, expected HEAD", r.Method)
		}
		if r.Header.Get("Accept") != manifestAcceptHeader {
			t.Errorf("unexpected Accept header %q", r.Header.Get("Accept"))
		}
		if r.Header.Get("Authorization") != "Bearer secret-token" {
			challenge := fmt.Sprintf(`Bearer realm=%q,service="test-registry",scope="repository:app:pull"`, server.URL+"/token")
			w.Header().Set("Www-Authenticate", challenge)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Docker-Content-Digest", dgst.String())
		w.WriteHeader(http.StatusOK)
	})

	return server, &tokenRequests
}

func TestManifestDigest(t *testing.T) {
	expected := digest.FromString("manifest-v1")
	server, tokenRequests := newRegistryServer(t, expected)

	host := strings.TrimPrefix(server.URL, "http://")
	cr := NewContainerRegistry()
	cr.Scheme = "http"
	cr.Client = server.Client()

	got, err := cr.ManifestDigest(context.Background(), host+"/app:v1")
	if err != nil {
		t.Fatal(err)
	}
	if got != expected {
		t.Errorf("digest %q, expected %q", got, expected)
	}
	if *tokenRequests != 1 {
		t.Errorf("token endpoint hit %d times, expected 1", *tokenRequests)
	}

	// The token is cached per repository, so a second check skips the
	// challenge round trip.
	if _, err := cr.ManifestDigest(context.Background(), host+"/app:v1"); err != nil {
		t.Fatal(err)
	}
	if *tokenRequests != 1 {
		t.Errorf("token endpoint hit %d times after cached call, expected 1", *tokenRequests)
	}
}

func TestManifestDigestErrorStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	cr := NewContainerRegistry()
	cr.Scheme = "http"
	cr.Client = server.Client()

	host := strings.TrimPrefix(server.URL, "http://")
	if _, err := cr.ManifestDigest(context.Background(), host+"/missing:v1"); err == nil {
		t.Error("expected an error for a 404 manifest response")
	}
}

func TestParseBearerChallenge(t *testing.T) {
	realm, params, err := parseBearerChallenge(`Bearer realm="https://auth.example.com/token",service="registry.example.com",scope="repository:app:pull"`)
	if err != nil {
		t.Fatal(err)
	}
	if realm != "https://auth.example.com/token" {
		t.Errorf("unexpected realm %q", realm)
	}
	if params["service"] != "registry.example.com" || params["scope"] != "repository:app:pull" {
		t.Errorf("unexpected params %v", params)
	}

	if _, _, err := parseBearerChallenge(`Basic realm="x"`); err == nil {
		t.Error("expected an error for a non-Bearer challenge")
	}
	if _, _, err := parseBearerChallenge(`Bearer service="x"`); err == nil {
		t.Error("expected an error for a challenge without realm")
	}
}
