package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddleware_CountsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware())
	router.GET("/wallets/:id", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/wallets/:id", "2xx"))

	req := httptest.NewRequest("GET", "/wallets/u1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/wallets/:id", "2xx"))
	assert.Equal(t, before+1, after)
}

func TestMiddleware_BucketsErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Middleware())
	router.GET("/boom", func(c *gin.Context) {
		c.String(http.StatusInternalServerError, "boom")
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/boom", "5xx"))

	req := httptest.NewRequest("GET", "/boom", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/boom", "5xx"))
	assert.Equal(t, before+1, after)
}

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{404, "4xx"},
		{402, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, statusBucket(tc.code), "code %d", tc.code)
	}
}

func TestHandler_Scrape(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// Make sure at least one domain metric has a value to scrape.
	ProposalsTotal.WithLabelValues("accepted").Inc()

	router := gin.New()
	router.GET("/metrics", Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "baratto_proposals_total")
}
