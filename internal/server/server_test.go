package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/items-api/internal/config"
	"github.com/vyrodovalexey/items-api/internal/handler"
	"github.com/vyrodovalexey/items-api/internal/middleware"
	"github.com/vyrodovalexey/items-api/internal/model"
	"github.com/vyrodovalexey/items-api/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerPort:         8080,
		ProbePort:          0,
		LogLevel:           "info",
		ShutdownTimeout:    5 * time.Second,
		MetricsEnabled:     true,
		WebSocketEnabled:   true,
		CORSAllowedOrigins: []string{"*"},
	}
}

func seededStore() store.Store {
	return store.NewMemoryStore(
		model.Item{Name: "testItem1", Price: 1},
		model.Item{Name: "testItem2", Price: 2},
		model.Item{Name: "testItem3", Price: 3},
	)
}

// newTestServer serves a ready Server through httptest.
func newTestServer(t *testing.T, cfg *config.Config) (*Server, *httptest.Server) {
	t.Helper()

	srv := New(cfg, zap.NewNop(), seededStore(), prometheus.NewRegistry())
	srv.SetReady(true)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		if ws := srv.WebSocketHandler(); ws != nil {
			ws.CloseAllConnections()
		}
		ts.Close()
	})

	return srv, ts
}

func doRequest(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func freeListener(t *testing.T) net.Listener {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return l
}

func TestNew(t *testing.T) {
	// Arrange
	cfg := testConfig()

	// Act
	srv := New(cfg, zap.NewNop(), seededStore(), prometheus.NewRegistry())

	// Assert
	require.NotNil(t, srv)
	assert.NotNil(t, srv.Handler())
	assert.NotNil(t, srv.WebSocketHandler())
	assert.Nil(t, srv.probeServer)
	assert.False(t, srv.IsReady())
	assert.Equal(t, ":8080", srv.httpServer.Addr)
}

func TestNew_NilRegistry(t *testing.T) {
	// Act
	srv := New(testConfig(), zap.NewNop(), seededStore(), nil)

	// Assert
	require.NotNil(t, srv.registry)
}

func TestServer_HTTPServerConfiguration(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.ProbePort = 9091

	// Act
	srv := New(cfg, zap.NewNop(), seededStore(), nil)

	// Assert
	for _, hs := range []*http.Server{srv.httpServer, srv.probeServer} {
		require.NotNil(t, hs)
		assert.Equal(t, 15*time.Second, hs.ReadTimeout)
		assert.Equal(t, 5*time.Second, hs.ReadHeaderTimeout)
		assert.Equal(t, 15*time.Second, hs.WriteTimeout)
		assert.Equal(t, 60*time.Second, hs.IdleTimeout)
		assert.Equal(t, 1<<20, hs.MaxHeaderBytes)
	}
	assert.Equal(t, ":9091", srv.probeServer.Addr)
}

func TestServer_HealthEndpoint(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())

	// Act
	resp, body := doRequest(t, http.MethodGet, ts.URL+"/health", "")

	// Assert
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health handler.HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, handler.Version, health.Version)
}

func TestServer_ReadyEndpoint(t *testing.T) {
	// Arrange
	srv, ts := newTestServer(t, testConfig())

	// Act
	srv.SetReady(false)
	notReady, _ := doRequest(t, http.MethodGet, ts.URL+"/ready", "")
	srv.SetReady(true)
	ready, _ := doRequest(t, http.MethodGet, ts.URL+"/ready", "")

	// Assert
	assert.Equal(t, http.StatusServiceUnavailable, notReady.StatusCode)
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestServer_ItemsScenario(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())

	steps := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "list seeded items",
			method:     http.MethodGet,
			path:       "/items",
			wantStatus: http.StatusOK,
			wantBody:   `{"items":[{"name":"testItem1","price":1},{"name":"testItem2","price":2},{"name":"testItem3","price":3}]}`,
		},
		{
			name:       "add item",
			method:     http.MethodPost,
			path:       "/items",
			body:       `{"name":"newTestName","price":50}`,
			wantStatus: http.StatusCreated,
			wantBody:   `{"added":{"name":"newTestName","price":50}}`,
		},
		{
			name:       "add item without fields",
			method:     http.MethodPost,
			path:       "/items",
			body:       `{"random":"x","bad":1}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "get item",
			method:     http.MethodGet,
			path:       "/items/testItem1",
			wantStatus: http.StatusOK,
			wantBody:   `{"name":"testItem1","price":1}`,
		},
		{
			name:       "get unknown item",
			method:     http.MethodGet,
			path:       "/items/nonexistent",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "rename item",
			method:     http.MethodPatch,
			path:       "/items/testItem2",
			body:       `{"name":"patchedItem","price":1}`,
			wantStatus: http.StatusOK,
			wantBody:   `{"updated":{"name":"patchedItem","price":1}}`,
		},
		{
			name:       "patch unknown item",
			method:     http.MethodPatch,
			path:       "/items/nonexistent",
			body:       `{"price":1}`,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "patch with empty body",
			method:     http.MethodPatch,
			path:       "/items/testItem1",
			body:       `{}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "delete item",
			method:     http.MethodDelete,
			path:       "/items/testItem1",
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"Deleted"}`,
		},
		{
			name:       "delete unknown item",
			method:     http.MethodDelete,
			path:       "/items/nonexistent",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "list keeps insertion order",
			method:     http.MethodGet,
			path:       "/items",
			wantStatus: http.StatusOK,
			wantBody:   `{"items":[{"name":"patchedItem","price":1},{"name":"testItem3","price":3},{"name":"newTestName","price":50}]}`,
		},
	}

	// Act & Assert
	for _, step := range steps {
		resp, body := doRequest(t, step.method, ts.URL+step.path, step.body)

		assert.Equal(t, step.wantStatus, resp.StatusCode, step.name)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"), step.name)
		if step.wantBody != "" {
			assert.JSONEq(t, step.wantBody, string(body), step.name)
		}
	}
}

func TestServer_UnknownRoute(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())

	// Act
	resp, body := doRequest(t, http.MethodGet, ts.URL+"/nowhere", "")

	// Assert
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"code":404,"message":"route not found"}`, string(body))
}

func TestServer_MethodNotAllowed(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())

	// Act
	resp, body := doRequest(t, http.MethodPut, ts.URL+"/items/testItem1", `{"price":2}`)

	// Assert
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.JSONEq(t, `{"code":405,"message":"method not allowed"}`, string(body))
}

func TestServer_CORSPreflight(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/items/testItem1", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)

	// Act
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	// Assert
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://shop.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodPatch)
}

func TestServer_RequestIDHeader(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/items", nil)
	require.NoError(t, err)
	req.Header.Set(middleware.RequestIDHeader, "trace-123")

	// Act
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	generated, _ := doRequest(t, http.MethodGet, ts.URL+"/nowhere", "")

	// Assert
	assert.Equal(t, "trace-123", resp.Header.Get(middleware.RequestIDHeader))
	assert.NotEmpty(t, generated.Header.Get(middleware.RequestIDHeader))
}

func TestServer_MetricsEndpoint(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())
	resp, _ := doRequest(t, http.MethodGet, ts.URL+"/items/testItem2", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Act
	resp, body := doRequest(t, http.MethodGet, ts.URL+MetricsPath, "")

	// Assert
	require.Equal(t, http.StatusOK, resp.StatusCode)
	text := string(body)
	assert.Contains(t, text, `http_requests_total{method="GET",path="/items/{name}",status="200"} 1`)
	assert.Contains(t, text, `items_store_operations_total{operation="get",result="success"} 1`)
	assert.Contains(t, text, "items_store_items 3")
	assert.NotContains(t, text, "testItem2")
}

func TestServer_MetricsCountUnmatchedRequests(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())
	notFound, _ := doRequest(t, http.MethodGet, ts.URL+"/nope", "")
	notAllowed, _ := doRequest(t, http.MethodPut, ts.URL+"/items", `{"name":"x","price":1}`)
	require.Equal(t, http.StatusNotFound, notFound.StatusCode)
	require.Equal(t, http.StatusMethodNotAllowed, notAllowed.StatusCode)

	// Act
	_, body := doRequest(t, http.MethodGet, ts.URL+MetricsPath, "")

	// Assert
	text := string(body)
	assert.Contains(t, text, `http_requests_total{method="GET",path="unmatched",status="404"} 1`)
	assert.Contains(t, text, `http_requests_total{method="PUT",path="unmatched",status="405"} 1`)
	assert.NotContains(t, text, "/nope")
}

func TestServer_MetricsPatchCountsUpdateOnly(t *testing.T) {
	// Arrange
	_, ts := newTestServer(t, testConfig())
	resp, _ := doRequest(t, http.MethodPatch, ts.URL+"/items/testItem1", `{"price":5}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Act
	_, body := doRequest(t, http.MethodGet, ts.URL+MetricsPath, "")

	// Assert
	text := string(body)
	assert.Contains(t, text, `items_store_operations_total{operation="update",result="success"} 1`)
	assert.NotContains(t, text, `operation="get"`)
}

func TestServer_FeaturesDisabled(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.MetricsEnabled = false
	cfg.WebSocketEnabled = false
	srv, ts := newTestServer(t, cfg)

	// Act
	metricsResp, _ := doRequest(t, http.MethodGet, ts.URL+MetricsPath, "")
	wsResp, _ := doRequest(t, http.MethodGet, ts.URL+handler.EventsPath, "")
	itemsResp, _ := doRequest(t, http.MethodGet, ts.URL+"/items", "")

	// Assert
	assert.Nil(t, srv.WebSocketHandler())
	assert.Equal(t, http.StatusNotFound, metricsResp.StatusCode)
	assert.Equal(t, http.StatusNotFound, wsResp.StatusCode)
	assert.Equal(t, http.StatusOK, itemsResp.StatusCode)
}

func TestServer_WebSocketFeed(t *testing.T) {
	// Arrange
	srv, ts := newTestServer(t, testConfig())

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + handler.EventsPath
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return srv.WebSocketHandler().ClientCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	// Act
	resp, _ := doRequest(t, http.MethodPatch, ts.URL+"/items/testItem2", `{"name":"patchedItem"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Assert
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var event model.ItemEvent
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, model.EventTypeItemUpdated, event.Type)
	assert.Equal(t, "patchedItem", event.Name)
	assert.Equal(t, "testItem2", event.PreviousName)
	require.NotNil(t, event.Item)
	assert.Equal(t, model.Item{Name: "patchedItem", Price: 2}, *event.Item)
}

func TestServer_ServeAndShutdown(t *testing.T) {
	// Arrange
	cfg := testConfig()
	cfg.ProbePort = 9091
	srv := New(cfg, zap.NewNop(), seededStore(), prometheus.NewRegistry())

	listener := freeListener(t)
	probeListener := freeListener(t)
	apiURL := "http://" + listener.Addr().String()
	probeURL := "http://" + probeListener.Addr().String()

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(listener, probeListener)
	}()

	require.Eventually(t, srv.IsReady, 2*time.Second, 10*time.Millisecond)

	// Act
	itemsResp, _ := doRequest(t, http.MethodGet, apiURL+"/items", "")
	readyResp, _ := doRequest(t, http.MethodGet, probeURL+"/ready", "")
	probeMetrics, _ := doRequest(t, http.MethodGet, probeURL+MetricsPath, "")
	probeItems, _ := doRequest(t, http.MethodGet, probeURL+"/items", "")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(ctx)

	// Assert
	assert.Equal(t, http.StatusOK, itemsResp.StatusCode)
	assert.Equal(t, http.StatusOK, readyResp.StatusCode)
	assert.Equal(t, http.StatusOK, probeMetrics.StatusCode)
	assert.Equal(t, http.StatusNotFound, probeItems.StatusCode)

	require.NoError(t, shutdownErr)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "Serve() did not return after Shutdown()")
	}
	assert.False(t, srv.IsReady())
}

func TestServer_Start_ListenError(t *testing.T) {
	// Arrange
	occupied := freeListener(t)
	defer occupied.Close()

	cfg := testConfig()
	cfg.ServerPort = occupied.Addr().(*net.TCPAddr).Port
	srv := New(cfg, zap.NewNop(), seededStore(), nil)

	// Act
	err := srv.Start()

	// Assert
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server listen")
}

func TestServer_ShutdownWithoutStart(t *testing.T) {
	// Arrange
	srv := New(testConfig(), zap.NewNop(), seededStore(), nil)

	// Act
	err := srv.Shutdown(context.Background())

	// Assert
	assert.NoError(t, err)
}
