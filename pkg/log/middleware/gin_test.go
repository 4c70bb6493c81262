package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RecoveredHTTPLog(), TimeoutHTTP())
	router.GET("/ping", handlers...)
	return router
}

func TestRecoveredHTTPLogPassesThrough(t *testing.T) {
	router := newTestRouter(func(ctx *gin.Context) {
		ctx.JSONP(http.StatusOK, gin.H{"pong": true})
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "pong")
}

func TestRecoveredHTTPLogSwallowsPanic(t *testing.T) {
	router := newTestRouter(func(ctx *gin.Context) {
		panic("handler exploded")
	})
	recorder := httptest.NewRecorder()
	require.NotPanics(t, func() {
		router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, recorder.Code)
	assert.Contains(t, recorder.Body.String(), "server internal error")
}

func TestRecoveredHTTPLogEchoesRequestID(t *testing.T) {
	router := newTestRouter(func(ctx *gin.Context) {
		ctx.JSONP(http.StatusOK, gin.H{})
	})
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("x-request-id", "req-42")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	assert.Equal(t, "req-42", recorder.Header().Get("request-id"))
}

func TestTimeoutHTTPBoundsRequestContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(TimeoutHTTP(time.Minute))
	router.GET("/ping", func(ctx *gin.Context) {
		deadline, ok := ctx.Request.Context().Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, time.Second*5)
		ctx.Status(http.StatusOK)
	})
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, recorder.Code)
}

func TestRequestHeaderFilterDropsCredentials(t *testing.T) {
	filtered := requestHeaderFilter(map[string][]string{
		"Token":        {"secret"},
		"Access-Token": {"secret"},
		"Content-Type": {"application/json"},
	})
	assert.NotContains(t, filtered, "token")
	assert.NotContains(t, filtered, "access-token")
	assert.Equal(t, "application/json", filtered["content-type"])
}
