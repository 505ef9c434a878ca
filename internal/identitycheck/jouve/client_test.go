package jouve

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"passculture/internal/beneficiaryimport/models"
	"passculture/internal/identitycheck"
)

func newJouveServer(t *testing.T, jeuneStatus int, body map[string]any) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(authenticatePath, func(w http.ResponseWriter, r *http.Request) {
		var req authenticateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if req.Username != "user" || req.Password != "secret" || req.VaultGuid != "vault" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(authenticateResponse{Value: "token-123"})
	})
	mux.HandleFunc(getJeuneByIDPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(headerAuthToken) != "token-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		if string(raw) != "42" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(jeuneStatus)
		_ = json.NewEncoder(w).Encode(body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(srv *httptest.Server, password string) *Client {
	return New(Config{Host: srv.URL + "/", Username: "user", Password: password, VaultKey: "vault"},
		WithHTTPClient(srv.Client()))
}

func TestGetApplication(t *testing.T) {
	srv := newJouveServer(t, http.StatusOK, map[string]any{
		"id":          42,
		"firstName":   " Camille ",
		"lastName":    "Martin",
		"birthDate":   "05/03/2006",
		"email":       "Camille@Example.com",
		"phoneNumber": "0612345678",
		"postalCode":  "97410",
		"gender":      "Female",
		"activity":    "Etudiant",
	})

	payload, err := newClient(srv, "secret").GetApplication(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, models.SourceJouve, payload.Source)
	assert.Equal(t, "Camille", payload.FirstName)
	assert.Equal(t, time.Date(2006, 3, 5, 0, 0, 0, 0, time.UTC), payload.DateOfBirth)
	assert.Equal(t, "974", payload.DepartmentCode)
	assert.Equal(t, "Mme", payload.Civility)
	assert.Equal(t, "Etudiant", payload.Activity)
}

func TestGetApplicationFailures(t *testing.T) {
	t.Run("non-2xx is a retryable fetch error", func(t *testing.T) {
		srv := newJouveServer(t, http.StatusBadGateway, map[string]any{})
		_, err := newClient(srv, "secret").GetApplication(context.Background(), 42)

		var fetchErr *identitycheck.ApplicationFetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, http.StatusBadGateway, fetchErr.StatusCode)
		assert.True(t, fetchErr.Retryable())
	})

	t.Run("rejected credentials", func(t *testing.T) {
		srv := newJouveServer(t, http.StatusOK, map[string]any{})
		_, err := newClient(srv, "wrong").GetApplication(context.Background(), 42)

		var fetchErr *identitycheck.ApplicationFetchError
		require.True(t, errors.As(err, &fetchErr))
		assert.Equal(t, http.StatusUnauthorized, fetchErr.StatusCode)
	})

	t.Run("malformed birth date flags the payload instead of failing the fetch", func(t *testing.T) {
		srv := newJouveServer(t, http.StatusOK, map[string]any{"birthDate": "2006-03-05", "email": "camille@example.com"})
		payload, err := newClient(srv, "secret").GetApplication(context.Background(), 42)
		require.NoError(t, err)

		assert.False(t, payload.Valid())
		assert.Contains(t, payload.Invalid, "2006-03-05")
		assert.True(t, payload.DateOfBirth.IsZero())
		assert.Equal(t, "camille@example.com", payload.Email)
	})

	t.Run("unreachable host", func(t *testing.T) {
		c := New(Config{Host: "http://127.0.0.1:1", Timeout: time.Second})
		_, err := c.GetApplication(context.Background(), 42)

		var fetchErr *identitycheck.ApplicationFetchError
		assert.True(t, errors.As(err, &fetchErr))
	})
}

func TestCivility(t *testing.T) {
	assert.Equal(t, "M.", civility("Male"))
	assert.Equal(t, "Mme", civility("female"))
	assert.Equal(t, "", civility("other"))
}
