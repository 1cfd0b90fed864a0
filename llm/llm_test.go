package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteReturnsTextAndModelIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req completionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "draft an issue", req.Prompt)
		json.NewEncoder(w).Encode(completionResponse{Text: "done", ModelIdentity: "gpt-5-pro"})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL)
	require.NotNil(t, c)

	resp, err := c.Complete(context.Background(), Request{Prompt: "draft an issue"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Text)
	assert.Equal(t, "gpt-5-pro", resp.ModelIdentity)
}

func TestCompleteRetriesOn429ThenSucceeds(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(completionResponse{Text: "ok"})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL).(*httpClient)
	c.http.Timeout = 0

	resp, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Text)
	assert.Equal(t, 2, calls)
}

func TestCompleteFailsFastOn4xxWithoutRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"bad prompt"}`))
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL)
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Equal(t, 1, calls)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
}

func TestCompleteExhaustsRetriesOn5xxAndReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL).(*httpClient)

	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
}

func TestNewClientReturnsNilOnEmptyAPIKey(t *testing.T) {
	assert.Nil(t, NewClient("", "http://example.com"))
}

func TestZeroRetentionOptionIsSentOnRequest(t *testing.T) {
	var seen completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&seen)
		json.NewEncoder(w).Encode(completionResponse{Text: "ok"})
	}))
	defer srv.Close()

	c := NewClient("key", srv.URL, WithZeroRetention())
	_, err := c.Complete(context.Background(), Request{Prompt: "x"})
	require.NoError(t, err)
	assert.True(t, seen.ZeroRetention)
}

func TestMockClientReturnsFixtureWithoutNetworkCall(t *testing.T) {
	m := Mock{Text: "fixture text", ModelIdentity: "mock-model"}
	resp, err := m.Complete(context.Background(), Request{Prompt: "anything"})
	require.NoError(t, err)
	assert.Equal(t, "fixture text", resp.Text)
	assert.Equal(t, "mock-model", resp.ModelIdentity)
}
