package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Alirezaa02/webvis-oakd-dashboard/auth"
	"github.com/Alirezaa02/webvis-oakd-dashboard/bus"
	"github.com/Alirezaa02/webvis-oakd-dashboard/config"
	"github.com/Alirezaa02/webvis-oakd-dashboard/event"
	"github.com/Alirezaa02/webvis-oakd-dashboard/ingest"
	"github.com/Alirezaa02/webvis-oakd-dashboard/store"
)

type testStack struct {
	srv *httptest.Server
	bus *bus.Bus
	mem *store.MemoryStore
}

func newTestStack(t *testing.T, authorizer auth.Authorizer, login *auth.JWTAuthorizer) *testStack {
	t.Helper()

	mem := store.NewMemoryStore(store.RetentionConfig{})
	t.Cleanup(func() { _ = mem.Close(context.Background()) })

	liveBus := bus.NewBus(bus.DefaultConfig(), bus.Dependencies{})
	require.NoError(t, liveBus.Initialize())
	require.NoError(t, liveBus.Start(context.Background()))
	t.Cleanup(func() { _ = liveBus.Stop(5 * time.Second) })

	ingestor, err := ingest.NewIngestor(ingest.Dependencies{
		Store:      mem,
		Bus:        liveBus,
		Authorizer: authorizer,
	})
	require.NoError(t, err)

	s, err := New(config.Default().Server, Dependencies{
		Ingestor:   ingestor,
		Store:      mem,
		Bus:        liveBus,
		Authorizer: authorizer,
		Login:      login,
	})
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &testStack{srv: srv, bus: liveBus, mem: mem}
}

func postJSON(t *testing.T, url string, body any, token string) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url, token string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestIngestAndLatestRoundTrip(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	resp := postJSON(t, stack.srv.URL+"/api/pose", map[string]any{"x": 1.0, "y": 2.0, "z": 3.0}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	ack := decodeBody[map[string]any](t, resp)
	assert.Equal(t, true, ack["accepted"])

	getResp, err := http.Get(stack.srv.URL + "/api/pose/latest")
	require.NoError(t, err)
	defer getResp.Body.Close()
	require.Equal(t, http.StatusOK, getResp.StatusCode)

	rows := decodeBody[[]map[string]any](t, getResp)
	require.Len(t, rows, 1)
	assert.Equal(t, 1.0, rows[0]["x"])
	assert.Contains(t, rows[0], "ts")
}

func TestIngestValidationErrorListsFields(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	resp := postJSON(t, stack.srv.URL+"/api/pose", map[string]any{"x": 1.0, "y": "wide"}, "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody[errorBody](t, resp)
	assert.Equal(t, "validation failed", body.Error)
	require.NotEmpty(t, body.Fields)

	fields := make(map[string]bool)
	for _, f := range body.Fields {
		fields[f.Field] = true
	}
	assert.True(t, fields["y"])
	assert.True(t, fields["z"])
}

func TestIngestMalformedJSON(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	resp, err := http.Post(stack.srv.URL+"/api/sensors", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLatestLimitClamped(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	for i := 0; i < 15; i++ {
		resp := postJSON(t, stack.srv.URL+"/api/detections", map[string]any{
			"frame_id":  "f",
			"image_url": "https://cam.local/frame.jpg",
		}, "")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	// Detection cap is 10; asking for 100 still returns 10.
	resp, err := http.Get(stack.srv.URL + "/api/detections/latest?limit=100")
	require.NoError(t, err)
	defer resp.Body.Close()
	rows := decodeBody[[]map[string]any](t, resp)
	assert.Len(t, rows, 10)

	// Asking for less returns less.
	resp2, err := http.Get(stack.srv.URL + "/api/detections/latest?limit=3")
	require.NoError(t, err)
	defer resp2.Body.Close()
	rows = decodeBody[[]map[string]any](t, resp2)
	assert.Len(t, rows, 3)

	resp3, err := http.Get(stack.srv.URL + "/api/detections/latest?limit=frog")
	require.NoError(t, err)
	defer resp3.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp3.StatusCode)
}

func TestAuthRequiredWhenEnabled(t *testing.T) {
	authorizer, err := auth.NewJWTAuthorizer(auth.JWTConfig{
		Secret:      "test-secret",
		Credentials: map[string]string{"oakd": "cam-pass"},
	})
	require.NoError(t, err)
	stack := newTestStack(t, authorizer, authorizer)

	payload := map[string]any{"x": 1.0, "y": 2.0, "z": 3.0}

	resp := postJSON(t, stack.srv.URL+"/api/pose", payload, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Login, then retry with the issued token.
	loginResp := postJSON(t, stack.srv.URL+"/auth/login", map[string]string{
		"username": "oakd", "password": "cam-pass",
	}, "")
	require.Equal(t, http.StatusOK, loginResp.StatusCode)
	token := decodeBody[map[string]string](t, loginResp)["token"]
	require.NotEmpty(t, token)

	okResp := postJSON(t, stack.srv.URL+"/api/pose", payload, token)
	assert.Equal(t, http.StatusAccepted, okResp.StatusCode)

	// History reads are gated by the same credential.
	noTokenResp := getJSON(t, stack.srv.URL+"/api/pose/latest", "")
	assert.Equal(t, http.StatusUnauthorized, noTokenResp.StatusCode)

	readResp := getJSON(t, stack.srv.URL+"/api/pose/latest", token)
	require.Equal(t, http.StatusOK, readResp.StatusCode)
	rows := decodeBody[[]map[string]any](t, readResp)
	assert.Len(t, rows, 1)

	badLogin := postJSON(t, stack.srv.URL+"/auth/login", map[string]string{
		"username": "oakd", "password": "nope",
	}, "")
	assert.Equal(t, http.StatusUnauthorized, badLogin.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	resp, err := http.Get(stack.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody[map[string]any](t, resp)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "now")
	assert.Equal(t, 0.0, body["wsClients"])
}

func TestLiveSubscriberReceivesIngestedEvent(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	wsURL := "ws" + strings.TrimPrefix(stack.srv.URL, "http") + "/ws/live"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Hello first.
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var hello map[string]any
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, "hello", hello["type"])

	require.Eventually(t, func() bool { return stack.bus.SubscriberCount() == 1 },
		time.Second, 10*time.Millisecond)

	resp := postJSON(t, stack.srv.URL+"/api/sensors", map[string]any{"temperature": 21.5}, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	var frame struct {
		Variant event.Variant  `json:"variant"`
		Event   map[string]any `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &frame))
	assert.Equal(t, event.VariantSensor, frame.Variant)
	assert.Equal(t, 21.5, frame.Event["temperature"])
}

func TestCORSPreflight(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	req, err := http.NewRequest(http.MethodOptions, stack.srv.URL+"/api/sensors", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://dashboard.local", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLoginRouteAbsentWithoutIssuer(t *testing.T) {
	stack := newTestStack(t, nil, nil)

	resp := postJSON(t, stack.srv.URL+"/auth/login", map[string]string{"username": "a", "password": "b"}, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
