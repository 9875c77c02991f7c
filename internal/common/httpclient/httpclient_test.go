package httpclient

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildURL(t *testing.T) {
	u, err := BuildURL(RequestOptions{BaseURL: "https://host:8443/api", Path: "v1/object", QueryParams: map[string]string{"a": "b"}})
	require.NoError(t, err)
	assert.Equal(t, "https://host:8443/api/v1/object?a=b", u.String())

	_, err = BuildURL(RequestOptions{BaseURL: "not a url"})
	assert.Error(t, err)
	_, err = BuildURL(RequestOptions{BaseURL: "ftp://host"})
	assert.Error(t, err)
	_, err = BuildURL(RequestOptions{BaseURL: "http://"})
	assert.Error(t, err)
}

func TestDoRequest(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if r.URL.Path == "/fail" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"result":0,"error":"bad payload"}`))
			return
		}
		sig, _ := base64.StdEncoding.DecodeString(r.Header.Get(HeaderSignature))
		signed := strings.Join([]string{r.Method, r.URL.Path, r.URL.RawQuery, string(body), r.Header.Get(HeaderSignatureTimestamp)}, "\n")
		if !ed25519.Verify(pub, []byte(signed), sig) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "key-1", r.Header.Get(HeaderKeyID))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Timeout: time.Second, KeyID: "key-1", SigningKey: priv})

	t.Run("signed request succeeds", func(t *testing.T) {
		body, err := c.DoRequest(context.Background(), RequestOptions{Method: http.MethodPost, BaseURL: srv.URL, Path: "/ok", Body: []byte(`{"x":1}`)})
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	})

	t.Run("error body is surfaced", func(t *testing.T) {
		_, err := c.DoRequest(context.Background(), RequestOptions{Method: http.MethodGet, BaseURL: srv.URL, Path: "/fail"})
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		assert.Equal(t, "bad payload", httpErr.Message)
	})
}
