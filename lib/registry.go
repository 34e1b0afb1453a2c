package lib

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

const manifestAcceptHeader = "application/vnd.docker.distribution.manifest.v2+json, application/vnd.oci.image.manifest.v1+json"

// ContainerRegistry queries image registries over the Docker Registry HTTP
// API v2. Bearer tokens obtained through the Www-Authenticate challenge
// are cached per repository.
type ContainerRegistry struct {
	Client *http.Client
	Scheme string

	tokenMutex sync.Mutex
	tokens     map[string]string
}

func NewContainerRegistry() *ContainerRegistry {
	return &ContainerRegistry{
		Client: &http.Client{Timeout: 30 * time.Second},
		Scheme: "https",
		tokens: make(map[string]string),
	}
}

// ManifestDigest asks the registry for the current manifest digest of a
// reference with a HEAD request, so no manifest body is transferred.
func (cr *ContainerRegistry) ManifestDigest(ctx context.Context, ref string) (digest.Digest, error) {
	image := ParseImageRef(ref)
	manifestURL := fmt.Sprintf("%s://%s/v2/%s/manifests/%s", cr.Scheme, image.Registry, image.Repository, image.Tag)

	res, err := cr.performRequest(ctx, image, manifestURL)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", errors.Errorf("registry returned status %d for %s", res.StatusCode, ref)
	}
	header := res.Header.Get("Docker-Content-Digest")
	if header == "" {
		return "", errors.Errorf("registry returned no digest for %s", ref)
	}
	dgst, err := digest.Parse(header)
	if err != nil {
		return "", errors.Wrapf(err, "parsing digest for %s", ref)
	}
	return dgst, nil
}

// performRequest sends the request with a cached token if one exists. On a
// 401 it requests a fresh token from the realm named in the challenge and
// retries once.
func (cr *ContainerRegistry) performRequest(ctx context.Context, image ImageRef, manifestURL string) (*http.Response, error) {
	scope := image.Registry + "/" + image.Repository

	res, err := cr.headWithToken(ctx, manifestURL, cr.cachedToken(scope))
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusUnauthorized {
		return res, nil
	}

	challenge := res.Header.Get("Www-Authenticate")
	res.Body.Close()
	token, err := cr.requestAuthToken(ctx, challenge)
	if err != nil {
		return nil, errors.Wrap(err, "requesting registry token")
	}
	cr.storeToken(scope, token)

	return cr.headWithToken(ctx, manifestURL, token)
}

func (cr *ContainerRegistry) headWithToken(ctx context.Context, manifestURL, token string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", manifestAcceptHeader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return cr.Client.Do(req)
}

func (cr *ContainerRegistry) cachedToken(scope string) string {
	cr.tokenMutex.Lock()
	defer cr.tokenMutex.Unlock()
	return cr.tokens[scope]
}

func (cr *ContainerRegistry) storeToken(scope, token string) {
	cr.tokenMutex.Lock()
	defer cr.tokenMutex.Unlock()
	cr.tokens[scope] = token
}

// requestAuthToken follows a Bearer challenge like
//
//	Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:library/nginx:pull"
//
// and returns the token granted by the realm.
func (cr *ContainerRegistry) requestAuthToken(ctx context.Context, challenge string) (string, error) {
	realm, params, err := parseBearerChallenge(challenge)
	if err != nil {
		return "", err
	}

	tokenURL, err := url.Parse(realm)
	if err != nil {
		return "", errors.Wrap(err, "parsing token realm")
	}
	query := tokenURL.Query()
	for key, value := range params {
		query.Set(key, value)
	}
	tokenURL.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tokenURL.String(), nil)
	if err != nil {
		return "", err
	}
	res, err := cr.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", errors.Errorf("token endpoint returned status %d", res.StatusCode)
	}

	var body struct {
		Token       string `json:"token"`
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decoding token response")
	}
	if body.Token != "" {
		return body.Token, nil
	}
	if body.AccessToken != "" {
		return body.AccessToken, nil
	}
	return "", errors.New("token endpoint returned no token")
}

func parseBearerChallenge(challenge string) (string, map[string]string, error) {
	if !strings.HasPrefix(challenge, "Bearer ") {
		return "", nil, errors.Errorf("unsupported auth challenge %q", challenge)
	}
	realm := ""
	params := make(map[string]string)
	for _, part := range strings.Split(strings.TrimPrefix(challenge, "Bearer "), ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		value := strings.Trim(kv[1], `"`)
		if kv[0] == "realm" {
			realm = value
		} else {
			params[kv[0]] = value
		}
	}
	if realm == "" {
		return "", nil, errors.Errorf("auth challenge without realm: %q", challenge)
	}
	return realm, params, nil
}
