package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestLoggerAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.DebugLevel)

	r := gin.New()
	r.Use(RequestLogger(logger, "/quiet"), RequestMetricsMiddleware("mw-test"))
	r.GET("/items/:id", func(c *gin.Context) { c.String(http.StatusNotFound, "nope") })
	r.GET("/quiet", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/items/7", "/quiet"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	out := buf.String()
	if !strings.Contains(out, `"path":"/items/:id"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected warn line with route pattern, got %s", out)
	}
	if strings.Contains(out, "/quiet") {
		t.Fatalf("skipped path was logged: %s", out)
	}
	got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", http.MethodGet, "/items/:id", "404"))
	if got != 1 {
		t.Fatalf("http request counter got=%v want=1", got)
	}
}
