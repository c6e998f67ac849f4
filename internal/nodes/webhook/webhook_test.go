package webhook_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	domainerrors "github.com/flowforge/workflows/internal/errors"
	"github.com/flowforge/workflows/internal/nodes/webhook"
)

func TestRun_MissingURLIsValidationError(t *testing.T) {
	e := webhook.New(nil)
	_, err := e.Run(context.Background(), map[string]any{})
	require.Error(t, err)
	var verr *domainerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRun_UnsupportedMethodIsValidationError(t *testing.T) {
	e := webhook.New(nil)
	_, err := e.Run(context.Background(), map[string]any{
		"url":    "http://example.com",
		"method": "TRACE",
	})
	require.Error(t, err)
	var verr *domainerrors.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestRun_SuccessfulDeliveryReturnsStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := webhook.New(nil)
	out, err := e.Run(context.Background(), map[string]any{
		"url":  srv.URL,
		"body": map[string]any{"hello": "world"},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, out["status_code"])
	require.JSONEq(t, `{"ok":true}`, out["body"].(string))
}

func TestRun_TransportFailureWrapsTransientInfraError(t *testing.T) {
	e := webhook.New(nil)
	_, err := e.Run(context.Background(), map[string]any{
		"url": "http://127.0.0.1:1", // nothing listens here
	})
	require.Error(t, err)
	var transient *domainerrors.TransientInfraError
	require.ErrorAs(t, err, &transient)
}
