package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/runplane/internal/domain"
	"github.com/xiaot623/gogo/runplane/internal/service"
	"github.com/xiaot623/gogo/runplane/tests/harness"
)

func newTestServer(t *testing.T) (*service.Service, *httptest.Server) {
	t.Helper()
	svc, cfg := harness.NewService(t)
	e := echo.New()
	e.GET("/v1/runs/:run_id/ws", NewServer(svc, cfg).HandleWebSocket)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return svc, srv
}

func dial(t *testing.T, srv *httptest.Server, runID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/" + runID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

type frame struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
	Code    string          `json:"code"`
	FromSeq int64           `json:"from_seq"`
}

func readFrame(t *testing.T, conn *websocket.Conn) (frame, error) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f frame
	err := conn.ReadJSON(&f)
	return f, err
}

func newRun(t *testing.T, svc *service.Service, assistant, config string) *domain.Run {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateThread(ctx, "", domain.CreateThreadRequest{ThreadID: "t1"})
	require.NoError(t, err)
	req := domain.CreateRunRequest{AssistantID: assistant}
	if config != "" {
		req.Config = json.RawMessage(config)
	}
	run, err := svc.CreateRun(ctx, "", "t1", req)
	require.NoError(t, err)
	return run
}

func TestAttachStreamsUntilEnd(t *testing.T) {
	svc, srv := newTestServer(t)
	run := newRun(t, svc, "counter", `{"steps":2}`)

	conn := dial(t, srv, run.RunID)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeAttach}))

	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, TypeAttached, f.Type)

	var seqs []int64
	var last frame
	for {
		f, err := readFrame(t, conn)
		if err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		require.Equal(t, TypeEvent, f.Type)
		seqs = append(seqs, f.Seq)
		last = f
		_ = conn.WriteJSON(ClientMessage{Type: TypeAck, Seq: f.Seq})
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8}, seqs)
	assert.Equal(t, string(domain.EventTypeEnd), last.Event)
}

func TestReattachFromLastSeq(t *testing.T) {
	svc, srv := newTestServer(t)
	run := newRun(t, svc, "approval", "")
	_, err := svc.Join(context.Background(), "", run.RunID, 5*time.Second)
	require.NoError(t, err)

	conn := dial(t, srv, run.RunID)
	require.NoError(t, conn.WriteJSON(ClientMessage{Type: TypeAttach, FromSeq: 2}))
	f, err := readFrame(t, conn)
	require.NoError(t, err)
	require.Equal(t, TypeAttached, f.Type)
	assert.Equal(t, int64(2), f.FromSeq)

	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, string(domain.EventTypeInterrupt), f.Event)
	assert.Equal(t, int64(2), f.Seq)

	// Resume: the same connection keeps receiving.
	_, err = svc.ResumeRun(context.Background(), "", run.RunID, json.RawMessage(`{"approved":true}`))
	require.NoError(t, err)
	var events []string
	for {
		f, err := readFrame(t, conn)
		if err != nil {
			break
		}
		events = append(events, f.Event)
	}
	assert.Equal(t, []string{"metadata", "updates", "values", "end"}, events)
}

func TestAttachErrors(t *testing.T) {
	svc, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/runs/missing/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	run := newRun(t, svc, "echo", "")
	_, err = svc.Join(context.Background(), "", run.RunID, 5*time.Second)
	require.NoError(t, err)

	conn := dial(t, srv, run.RunID)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f, err := readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, TypeError, f.Type)
	assert.Equal(t, "invalid_argument", f.Code)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "bogus"}))
	f, err = readFrame(t, conn)
	require.NoError(t, err)
	assert.Equal(t, "invalid_argument", f.Code)
}
