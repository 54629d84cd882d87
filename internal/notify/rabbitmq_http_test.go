package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bitsmanent/pixelounifier/internal/testutil"
	"github.com/bitsmanent/pixelounifier/internal/utils/httpclient"
)

func newRabbitServer(t *testing.T, status int, resp string, got *publishRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json;charset=UTF-8", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "guest", user)
		assert.Equal(t, "secret", pass)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		if got != nil {
			assert.NoError(t, json.Unmarshal(body, got))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newRabbitPublisher(srv *httptest.Server) *RabbitHTTPPublisher {
	client := httpclient.NewHTTPClient(httpclient.Options{Timeout: 2 * time.Second}, testutil.NewLogger())
	return NewRabbitHTTPPublisher(client, srv.URL+"/api/exchanges/%2F/amq.default/publish", "unifier.updates", "guest", "secret", testutil.NewLogger())
}

func TestRabbitHTTPPublisher_Routed(t *testing.T) {
	var got publishRequest
	srv := newRabbitServer(t, http.StatusOK, `{"routed":true}`, &got)
	p := newRabbitPublisher(srv)

	require.NoError(t, p.Publish(context.Background(), "market", []byte(`{"type":"market"}`)))
	assert.Equal(t, "unifier.updates", got.RoutingKey)
	assert.Equal(t, "string", got.PayloadEncoding)
	assert.Equal(t, `{"type":"market"}`, got.Payload)
	assert.Equal(t, "market", got.Properties.Headers["MessageType"])
	assert.NotEmpty(t, got.Properties.Headers["correlation_id"])
}

func TestRabbitHTTPPublisher_NotRouted(t *testing.T) {
	srv := newRabbitServer(t, http.StatusOK, `{"routed":false}`, nil)
	err := newRabbitPublisher(srv).Publish(context.Background(), "game", []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotRouted)
}

func TestRabbitHTTPPublisher_ErrorResponse(t *testing.T) {
	srv := newRabbitServer(t, http.StatusNotFound, `{"error":"Object Not Found","reason":"Not Found"}`, nil)
	err := newRabbitPublisher(srv).Publish(context.Background(), "game", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Contains(t, err.Error(), "Object Not Found")
}
