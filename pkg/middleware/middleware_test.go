package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-hierarchy/pkg/composables"
)

func captureLogger() (*logrus.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	log := logrus.New()
	log.SetOutput(buf)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
	return log, buf
}

func TestWithLogger_BindsRequestContext(t *testing.T) {
	log, buf := captureLogger()
	var gotRequestID string
	var gotBody string
	h := WithLogger(log, DefaultLoggerOptions())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = composables.UseRequestID(r.Context())
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		composables.UseLogger(r.Context()).Info("inside")
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/hierarchy/api/hierarchies", strings.NewReader(`{"name":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "req-1", gotRequestID)
	require.Equal(t, "req-1", rec.Header().Get("X-Request-Id"))
	require.Equal(t, `{"name":"x"}`, gotBody)
	require.Contains(t, buf.String(), `"msg":"inside"`)
	require.Contains(t, buf.String(), `"request-id":"req-1"`)
	require.Contains(t, buf.String(), `"status-code":201`)
}

func TestWithLogger_GeneratesRequestID(t *testing.T) {
	log, _ := captureLogger()
	h := WithLogger(log, DefaultLoggerOptions())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err := uuid.Parse(rec.Header().Get("X-Request-Id"))
	require.NoError(t, err)
}

func TestWithLogger_RecoversPanics(t *testing.T) {
	log, buf := captureLogger()
	h := WithLogger(log, DefaultLoggerOptions())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/hierarchy/api/nodes/x", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "INTERNAL", body["code"])
	require.Contains(t, buf.String(), "panic recovered in request handler")
}

func TestRequireTenantHeader(t *testing.T) {
	tenantID := uuid.New()
	var got uuid.UUID
	h := RequireTenantHeader("X-Tenant-ID")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		got, err = composables.UseTenantID(r.Context())
		require.NoError(t, err)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", tenantID.String())
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, tenantID, got)

	for _, raw := range []string{"", "nope", uuid.Nil.String()} {
		rec = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/", nil)
		if raw != "" {
			req.Header.Set("X-Tenant-ID", raw)
		}
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code, raw)
		require.Contains(t, rec.Body.String(), "TENANT_REQUIRED")
	}
}
