package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/memoria"
	"github.com/soundprediction/memoria/pkg/driver"
	"github.com/soundprediction/memoria/pkg/extraction"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, cfg *memoria.Config) *memoria.Client {
	t.Helper()

	logger := testLogger()
	backend := driver.NewMemoryBackend(logger)
	extractor, err := extraction.NewPatternExtractor(nil, logger)
	if err != nil {
		t.Fatalf("failed to build extractor: %v", err)
	}

	client, err := memoria.NewClient(backend, extractor, cfg, logger)
	if err != nil {
		t.Fatalf("failed to build client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestRouter(client *memoria.Client) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	captureHandler := NewCaptureHandler(client)
	retrieveHandler := NewRetrieveHandler(client)

	r.POST("/capture", captureHandler.Capture)
	r.DELETE("/memories/:id", captureHandler.Forget)
	r.GET("/entities", retrieveHandler.ListEntities)
	r.GET("/entities/:id", retrieveHandler.GetEntity)
	r.GET("/entities/:id/traverse", retrieveHandler.Traverse)
	r.GET("/recall", retrieveHandler.Recall)
	r.GET("/path", retrieveHandler.FindPath)
	r.GET("/stats", retrieveHandler.Stats)
	return r
}

// doJSON issues a request with an optional JSON body against the router.
func doJSON(t *testing.T, router *gin.Engine, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// captureMemory ingests one memory through the API, failing the test when
// the capture is not accepted.
func captureMemory(t *testing.T, router *gin.Engine, memoryID, text string) {
	t.Helper()

	body := fmt.Sprintf(`{"memory_id": %q, "text": %q}`, memoryID, text)
	w := doJSON(t, router, http.MethodPost, "/capture", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("capture of %s failed with status %d: %s", memoryID, w.Code, w.Body.String())
	}
}
