package httpclient

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

// newTestClient builds a Client from the optional config and closes it when
// the test ends.
func newTestClient(t *testing.T, cfg ...*Config) *Client {
	t.Helper()
	var c *Config
	if len(cfg) > 0 {
		c = cfg[0]
	}
	client := New(c)
	t.Cleanup(client.Close)
	return client
}

func serve(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

// drain reads and closes a response body so the connection can be reused.
func drain(t *testing.T, resp *http.Response) {
	t.Helper()
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		t.Logf("close response body: %v", err)
	}
}
