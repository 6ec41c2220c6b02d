package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gazepointer/internal/model"
	"gazepointer/internal/pipeline"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestTokenRoundTrip(t *testing.T) {
	tm, err := NewTokenManager(secret, time.Hour)
	require.NoError(t, err)

	token, expiresAt, err := tm.Issue("dashboard")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := tm.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "dashboard", claims.Subject)
	assert.Equal(t, "gazepointer", claims.Issuer)
}

func TestTokenRejections(t *testing.T) {
	tm, err := NewTokenManager(secret, time.Minute)
	require.NoError(t, err)
	token, _, err := tm.Issue("dashboard")
	require.NoError(t, err)

	other, err := NewTokenManager("another-secret-of-enough-length", time.Minute)
	require.NoError(t, err)
	_, err = other.Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tm.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	tm.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	_, err = tm.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)

	_, err = NewTokenManager("", 0)
	assert.Error(t, err)
}

func TestRequireToken(t *testing.T) {
	tm, err := NewTokenManager(secret, time.Hour)
	require.NoError(t, err)
	token, _, err := tm.Issue("dashboard")
	require.NoError(t, err)

	var seen *Claims
	handler := RequireToken(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = r.Context().Value(ClaimsContextKey).(*Claims)
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"malformed header", "Token " + token, "", http.StatusUnauthorized},
		{"bad token", "Bearer garbage", "", http.StatusUnauthorized},
		{"bearer header", "Bearer " + token, "", http.StatusNoContent},
		{"query parameter", "", token, http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, WebsocketPath, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.query != "" {
				req.URL.RawQuery = "token=" + tt.query
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.status == http.StatusNoContent {
				require.NotNil(t, seen)
				assert.Equal(t, "dashboard", seen.Subject)
			}
		})
	}

	open := RequireToken(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	open.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, WebsocketPath, nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func dial(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + WebsocketPath
	if token != "" {
		url += "?token=" + token
	}
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestHubBroadcastsFrameResults(t *testing.T) {
	logger, _ := test.NewNullLogger()
	tm, err := NewTokenManager(secret, time.Hour)
	require.NoError(t, err)
	token, _, err := tm.Issue("dashboard")
	require.NoError(t, err)

	hub := NewHub(logger)
	srv := httptest.NewServer(NewServer(hub, tm, logger).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + WebsocketPath
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn := dial(t, srv, token)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.OnFrameResult(&pipeline.FrameResult{
		Seq:      3,
		Gaze:     &model.GazeVector{X: 0.1, Y: -0.2, Z: -0.97},
		Counters: pipeline.Counters{Frames: 3, Completed: 3},
	})
	hub.BroadcastReport(&pipeline.Report{Counters: pipeline.Counters{Frames: 3, Completed: 3}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type   string `json:"type"`
		Result struct {
			Seq  uint64 `json:"seq"`
			Gaze struct {
				X float32 `json:"x"`
			} `json:"gaze"`
			Counters pipeline.Counters `json:"counters"`
		} `json:"result"`
	}
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, TypeFrame, frame.Type)
	assert.Equal(t, uint64(3), frame.Result.Seq)
	assert.InDelta(t, 0.1, frame.Result.Gaze.X, 1e-6)
	assert.Equal(t, 3, frame.Result.Counters.Completed)

	var report map[string]json.RawMessage
	require.NoError(t, conn.ReadJSON(&report))
	assert.JSONEq(t, `"report"`, string(report["type"]))

	hub.Close()
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Zero(t, hub.ClientCount())
}

func TestHealth(t *testing.T) {
	logger, _ := test.NewNullLogger()
	srv := httptest.NewServer(NewServer(NewHub(logger), nil, logger).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + HealthPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(0), body["clients"])
}

func TestClosedHubRefusesClients(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hub := NewHub(logger)
	hub.Close()
	srv := httptest.NewServer(NewServer(hub, nil, logger).Handler())
	defer srv.Close()

	conn := dial(t, srv, "")
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Zero(t, hub.ClientCount())
}
