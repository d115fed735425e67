package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuth_Counters(t *testing.T) {
	m := NewAuth()

	m.Registration(ResultSuccess)
	m.Registration(ResultConflict)
	m.Login(ResultRejected)
	m.Login(ResultRejected)
	m.TokenRejected("missing")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.registrations.WithLabelValues(ResultConflict)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.logins.WithLabelValues(ResultRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tokenRejections.WithLabelValues("missing")))
}

func TestAuth_NilIsNoop(t *testing.T) {
	var m *Auth
	assert.NotPanics(t, func() {
		m.Registration(ResultSuccess)
		m.Login(ResultError)
		m.TokenRejected("invalid")
	})
}

func TestAuth_Handler(t *testing.T) {
	m := NewAuth()
	m.Login(ResultSuccess)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `staybook_auth_logins_total{result="success"} 1`)
}
