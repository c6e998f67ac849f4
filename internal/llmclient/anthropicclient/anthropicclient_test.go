package anthropicclient_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flowforge/workflows/internal/llmclient/anthropicclient"
)

func TestChat_SuccessReturnsConcatenatedText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "sk-test-key", r.Header.Get("x-api-key"))
		require.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		w.Write([]byte(`{"content":[{"type":"text","text":"hello "},{"type":"text","text":"world"}]}`))
	}))
	defer srv.Close()

	c := anthropicclient.NewWithBaseURL(srv.URL)
	text, err := c.Chat(context.Background(), "sk-test-key", "claude-3-5-haiku", "be terse", []string{"hi"})
	require.NoError(t, err)
	require.Equal(t, "hello world", text)
}

func TestChat_APIErrorIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	c := anthropicclient.NewWithBaseURL(srv.URL)
	_, err := c.Chat(context.Background(), "bad-key", "claude-3-5-haiku", "", []string{"hi"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid x-api-key")
}
