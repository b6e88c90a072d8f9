package remote

import (
	"context"
	"errors"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T, url string, retries int) *Client {
	c, err := New(Options{
		BaseURL:     url,
		Logger:      zap.NewNop(),
		ReadRetries: retries,
		RetryDelay:  time.Millisecond,
	})
	require.NoError(t, err)
	return c
}

func TestDoForwardsBearerAndDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		assert.Equal(t, "/plans/P1", r.URL.Path)
		assert.Equal(t, "MX", r.URL.Query().Get("country"))
		w.Write([]byte(`{"id":"P1"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", 0)
	ctx := WithBearer(context.Background(), "tok-123")

	var out struct {
		ID string `json:"id"`
	}
	err := c.Do(ctx, Call{Op: "GetPlan", Path: "/plans/P1", Query: map[string][]string{"country": {"MX"}}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "P1", out.ID)
}

func TestReadsAreRetriedOnServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 4)
	require.NoError(t, c.Do(context.Background(), Call{Op: "List"}, nil))
	assert.EqualValues(t, 3, atomic.LoadInt32(&hits))
}

func TestReadsAreNotRetriedOnClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"message":"not here"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 4)
	err := c.Do(context.Background(), Call{Op: "Get"}, nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "not here", UserMessage(err))
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestMutationsAreNeverRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		body, _ := ioutil.ReadAll(r.Body)
		assert.JSONEq(t, `{"plan_id":"P1"}`, string(body))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"metaData":{"message":"plan inactive"},"message":"generic"}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 4)
	err := c.Do(context.Background(), Call{
		Op:       "CreateSubscription",
		Method:   http.MethodPost,
		Body:     map[string]string{"plan_id": "P1"},
		Fallback: "Error al crear la suscripción",
	}, nil)

	var aErr *AdapterError
	require.True(t, errors.As(err, &aErr))
	assert.Equal(t, http.StatusInternalServerError, aErr.StatusCode)
	assert.Equal(t, "plan inactive", aErr.Message)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 0)
	var out map[string]interface{}
	err := c.Do(context.Background(), Call{Op: "Get", Fallback: "fallback"}, &out)
	require.Error(t, err)
	assert.Equal(t, "fallback", UserMessage(err))
}

func TestExtractMessage(t *testing.T) {
	cases := []struct {
		body, want string
	}{
		{`{"metaData":{"message":"meta"},"message":"msg","error":"err"}`, "meta"},
		{`{"metaData":{"message":""},"message":"msg"}`, "msg"},
		{`{"error":"plain"}`, "plain"},
		{`{"error":{"message":"nested"}}`, "nested"},
		{`{"success":false}`, "fb"},
		{`not json`, "fb"},
		{``, "fb"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ExtractMessage([]byte(c.body), "fb"), c.body)
	}
}

func TestObserverIsCalled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var seen []int
	c, err := New(Options{
		BaseURL: srv.URL,
		Logger:  zap.NewNop(),
		Observe: func(op string, status int, _ time.Duration) {
			assert.Equal(t, "Delete", op)
			seen = append(seen, status)
		},
	})
	require.NoError(t, err)
	require.NoError(t, c.Do(context.Background(), Call{Op: "Delete", Method: http.MethodDelete}, nil))
	assert.Equal(t, []int{http.StatusNoContent}, seen)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{Logger: zap.NewNop()})
	assert.Error(t, err)
	_, err = New(Options{BaseURL: "http://x"})
	assert.Error(t, err)
}
