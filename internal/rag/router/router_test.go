package router_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/nexus/internal/rag/handler"
	"github.com/kart-io/nexus/internal/rag/router"
)

type fakeDep struct {
	err error
}

func (f fakeDep) Ping(_ context.Context) error {
	return f.err
}

func newEngine(deps map[string]router.HealthChecker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	router.Register(engine, handler.NewRAGHandler(nil, nil), deps)
	return engine
}

func TestHealthzAllOK(t *testing.T) {
	engine := newEngine(map[string]router.HealthChecker{
		"milvus": fakeDep{},
		"redis":  fakeDep{},
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["milvus"])
	assert.Equal(t, "ok", body.Checks["redis"])
}

func TestHealthzDependencyDown(t *testing.T) {
	engine := newEngine(map[string]router.HealthChecker{
		"milvus": fakeDep{},
		"redis":  fakeDep{err: errors.New("connection refused")},
	})

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body struct {
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Checks["milvus"])
	assert.Equal(t, "connection refused", body.Checks["redis"])
}
