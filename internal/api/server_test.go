package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"relay/internal/models"
	"relay/internal/orders"
)

type stubPipeline struct {
	calls  int
	result *orders.Result
}

func (s *stubPipeline) Execute(ctx context.Context, req *models.SignalRequest, key string) *orders.Result {
	s.calls++
	return s.result
}

type stubTokenManager struct {
	refreshErr error
	tokenErr   error
}

func (s *stubTokenManager) Refresh(ctx context.Context) (string, error) {
	if s.refreshErr != nil {
		return "", s.refreshErr
	}
	return "fresh-token", nil
}

func (s *stubTokenManager) AccessToken(ctx context.Context) (string, error) {
	if s.tokenErr != nil {
		return "", s.tokenErr
	}
	return "live-token", nil
}

func (s *stubTokenManager) AuthCodeURL() string {
	return "https://auth.test/login"
}

type stubCollector struct{}

func (stubCollector) Collect() (string, error) {
	return "relay_uptime_seconds 1", nil
}

func testConfig() ServerConfig {
	return ServerConfig{
		Port:        8080,
		SecretToken: "hook-secret",
		Version:     "1.0.0",
	}
}

func newTestServer(t *testing.T, config ServerConfig) (*Server, *stubPipeline, *stubTokenManager) {
	t.Helper()

	server, err := NewServer(config, zerolog.Nop())
	require.NoError(t, err)

	pipeline := &stubPipeline{result: &orders.Result{
		Status: http.StatusOK,
		Body:   []byte(`{"success":true,"message":"order placed"}`),
	}}
	manager := &stubTokenManager{}

	server.SetDependencies(pipeline, manager, manager, stubCollector{}, nil)
	return server, pipeline, manager
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid configuration", func(t *testing.T) {
		config := testConfig()
		config.Host = "127.0.0.1"
		config.ReadTimeout = 10 * time.Second

		server, err := NewServer(config, zerolog.Nop())
		require.NoError(t, err)
		assert.NotNil(t, server)
		assert.Equal(t, "127.0.0.1:8080", server.httpServer.Addr)
		assert.Equal(t, 10*time.Second, server.httpServer.ReadTimeout)
	})

	t.Run("validates port number", func(t *testing.T) {
		config := testConfig()
		config.Port = 0

		_, err := NewServer(config, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port")
	})

	t.Run("requires webhook secret", func(t *testing.T) {
		config := testConfig()
		config.SecretToken = ""

		_, err := NewServer(config, zerolog.Nop())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "secret token required")
	})

	t.Run("sets default timeouts", func(t *testing.T) {
		server, err := NewServer(testConfig(), zerolog.Nop())
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, server.httpServer.ReadTimeout)
		assert.Equal(t, 30*time.Second, server.httpServer.WriteTimeout)
		assert.Equal(t, 60*time.Second, server.httpServer.IdleTimeout)
	})
}

func TestServerStart(t *testing.T) {
	t.Run("starts and stops with ListenAndServe semantics", func(t *testing.T) {
		server := &Server{
			config: testConfig(),
			logger: zerolog.Nop(),
			httpServer: &http.Server{
				Addr: ":0",
				Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
			},
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start()
		}()

		// Give server time to start
		time.Sleep(100 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		require.NoError(t, server.Shutdown(ctx))

		select {
		case err := <-errCh:
			assert.ErrorIs(t, err, http.ErrServerClosed)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not shut down in time")
		}
	})
}

func TestServerShutdown(t *testing.T) {
	t.Run("respects shutdown timeout with an in-flight request", func(t *testing.T) {
		handlerStarted := make(chan struct{})

		server := &Server{
			logger: zerolog.Nop(),
			httpServer: &http.Server{
				Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					close(handlerStarted)
					time.Sleep(5 * time.Second)
					w.WriteHeader(http.StatusOK)
				}),
			},
		}

		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		defer listener.Close()

		go server.httpServer.Serve(listener)
		time.Sleep(100 * time.Millisecond)

		go func() {
			http.Get(fmt.Sprintf("http://127.0.0.1:%d/", listener.Addr().(*net.TCPAddr).Port))
		}()

		select {
		case <-handlerStarted:
		case <-time.After(1 * time.Second):
			t.Fatal("handler did not start")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = server.Shutdown(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "context deadline exceeded")
	})
}

func TestServerHealthCheck(t *testing.T) {
	t.Run("responds to liveness probes before dependencies exist", func(t *testing.T) {
		server, err := NewServer(testConfig(), zerolog.Nop())
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp models.HealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "healthy", resp.Status)
		assert.Equal(t, "1.0.0", resp.Version)
	})
}

func TestServerRoutes(t *testing.T) {
	t.Run("routes webhooks through the pipeline", func(t *testing.T) {
		server, pipeline, _ := newTestServer(t, testConfig())

		body := `{"token":"hook-secret","symbol":"NIFTY","strikeprice":24850,"optionType":"CE","expiry":"WEEKLY","action":"BUY"}`
		req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":true,"message":"order placed"}`, w.Body.String())
		assert.Equal(t, 1, pipeline.calls)
	})

	t.Run("rejects webhooks with a wrong secret", func(t *testing.T) {
		server, pipeline, _ := newTestServer(t, testConfig())

		body := `{"token":"wrong","symbol":"NIFTY","strikeprice":24850,"optionType":"CE","expiry":"WEEKLY","action":"BUY"}`
		req := httptest.NewRequest("POST", "/webhook", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, 0, pipeline.calls)
	})

	t.Run("reports readiness from the token prober", func(t *testing.T) {
		server, _, manager := newTestServer(t, testConfig())

		req := httptest.NewRequest("GET", "/readyz", nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		manager.tokenErr = errors.New("re-authorization required")
		req = httptest.NewRequest("GET", "/readyz", nil)
		w = httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("forces token refreshes", func(t *testing.T) {
		server, _, manager := newTestServer(t, testConfig())

		req := httptest.NewRequest("POST", "/refresh-token", nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		manager.refreshErr = errors.New("provider down")
		req = httptest.NewRequest("POST", "/refresh-token", nil)
		w = httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("serves the auth URL", func(t *testing.T) {
		server, _, _ := newTestServer(t, testConfig())

		req := httptest.NewRequest("GET", "/auth-url", nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"auth_url":"https://auth.test/login"}`, w.Body.String())
	})

	t.Run("serves Prometheus metrics", func(t *testing.T) {
		server, _, _ := newTestServer(t, testConfig())

		req := httptest.NewRequest("GET", "/metrics", nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "relay_uptime_seconds")
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	})
}

func TestServerMiddleware(t *testing.T) {
	t.Run("applies request ID middleware", func(t *testing.T) {
		server, err := NewServer(testConfig(), zerolog.Nop())
		require.NoError(t, err)

		req := httptest.NewRequest("GET", "/healthz", nil)
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)

		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
	})

	t.Run("applies rate limiting", func(t *testing.T) {
		config := testConfig()
		config.RateLimit = 1
		config.RateBurst = 2

		server, err := NewServer(config, zerolog.Nop())
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			req := httptest.NewRequest("GET", "/healthz", nil)
			req.RemoteAddr = "127.0.0.1:1234"
			w := httptest.NewRecorder()
			server.router.ServeHTTP(w, req)
			assert.Equal(t, http.StatusOK, w.Code)
		}

		req := httptest.NewRequest("GET", "/healthz", nil)
		req.RemoteAddr = "127.0.0.1:1234"
		w := httptest.NewRecorder()
		server.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})
}
