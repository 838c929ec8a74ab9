package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/GPTHub/internal/assistant/assistanttest"
	"github.com/router-for-me/GPTHub/internal/config"
	"github.com/router-for-me/GPTHub/internal/http/middleware"
)

func TestNewRouter_RegistersRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	conn := openTestDB(t)
	runCfg := config.RunConfig{PollInterval: time.Millisecond, MaxWait: time.Second}
	router := NewRouter(conn, config.JWTConfig{Secret: "s", Expiry: time.Hour}, NewServices(conn, assistanttest.New(), runCfg, nil))

	cases := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/api/v1/gpts", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/admin/users", http.StatusUnauthorized},
		{http.MethodOptions, "/api/v1/gpts", http.StatusNoContent},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(tc.method, tc.path, nil))
		if w.Code != tc.want {
			t.Fatalf("%s %s: expected %d, got %d", tc.method, tc.path, tc.want, w.Code)
		}
		if w.Header().Get(middleware.RequestIDHeader) == "" {
			t.Fatalf("%s %s: missing request id header", tc.method, tc.path)
		}
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}

	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("server did not stop")
	}
}
