package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"

	"chat-relay/runtime"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	engine := runtime.NewEngine(log, runtime.NewRegistry(true, nil), runtime.NewHistory())
	srv := httptest.NewServer(NewServer(log, engine, nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	req := require.New(t)
	blob, err := json.Marshal(payload)
	req.NoError(err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(blob))
	req.NoError(err)
	return resp, decodeBody(t, resp)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func join(t *testing.T, srv *httptest.Server, username string) string {
	t.Helper()
	req := require.New(t)
	resp, body := postJSON(t, srv.URL+"/join", map[string]string{"username": username})
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(true, body["success"])
	sessionID, _ := body["session_id"].(string)
	req.NotEmpty(sessionID)
	return sessionID
}

func TestHTTP_Join_Returns_Session_And_Resolved_Name(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp, err := http.Post(srv.URL+"/join?username=alice", "application/json", nil)
	req.NoError(err)
	body := decodeBody(t, resp)

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(true, body["success"])
	req.Equal("alice", body["username"])
	req.Equal(float64(1), body["online_count"])
	req.NotEmpty(body["session_id"])
}

func TestHTTP_Join_Defaults_To_Anonymous(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	resp, body := postJSON(t, srv.URL+"/join", map[string]string{})

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("Anonymous", body["username"])
}

func TestHTTP_Rejoin_From_The_Same_Client_Replaces_The_Session(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	// Every request of this test arrives from the same address, so the
	// second join evicts the first session instead of stacking a new one
	first := join(t, srv, "alice")
	resp, body := postJSON(t, srv.URL+"/join", map[string]string{"username": "alice"})

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(float64(1), body["online_count"])
	req.NotEqual(first, body["session_id"])
}

func TestHTTP_Message_Is_Appended_To_The_Poll_History(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	sessionID := join(t, srv, "alice")

	resp, body := postJSON(t, srv.URL+"/message",
		map[string]string{"session_id": sessionID, "message": "hello world"})
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(true, body["success"])

	pollResp, err := http.Get(fmt.Sprintf("%s/messages?since=0&session_id=%s", srv.URL, sessionID))
	req.NoError(err)
	pollBody := decodeBody(t, pollResp)
	req.Equal(http.StatusOK, pollResp.StatusCode)

	// History holds the join notice plus the chat message
	messages := pollBody["messages"].([]any)
	req.Len(messages, 2)
	last := messages[1].(map[string]any)
	req.Equal("message", last["type"])
	req.Equal("alice", last["username"])
	req.Equal("hello world", last["message"])
	req.Equal(float64(2), pollBody["total"])
}

func TestHTTP_Poll_Resumes_From_The_Returned_Total(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	sessionID := join(t, srv, "alice")

	pollResp, err := http.Get(srv.URL + "/messages?since=0")
	req.NoError(err)
	first := decodeBody(t, pollResp)
	total := int(first["total"].(float64))

	_, _ = postJSON(t, srv.URL+"/message",
		map[string]string{"session_id": sessionID, "message": "after the cursor"})

	pollResp, err = http.Get(fmt.Sprintf("%s/messages?since=%d", srv.URL, total))
	req.NoError(err)
	second := decodeBody(t, pollResp)
	messages := second["messages"].([]any)
	req.Len(messages, 1)
	req.Equal("after the cursor", messages[0].(map[string]any)["message"])
}

func TestHTTP_Message_Validation(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	// Missing fields
	resp, _ := postJSON(t, srv.URL+"/message", map[string]string{"message": "no session"})
	req.Equal(http.StatusBadRequest, resp.StatusCode)

	// Whitespace-only message, rejected like blank lines on the other transports
	sessionID := join(t, srv, "alice")
	resp, body := postJSON(t, srv.URL+"/message",
		map[string]string{"session_id": sessionID, "message": "   "})
	req.Equal(http.StatusBadRequest, resp.StatusCode)
	req.Equal("empty message", body["error"])

	pollResp, err := http.Get(srv.URL + "/messages?since=0")
	req.NoError(err)
	pollBody := decodeBody(t, pollResp)
	// only the join notice is in history, no empty chat line
	req.Equal(float64(1), pollBody["total"])

	// Unknown session
	resp, body = postJSON(t, srv.URL+"/message",
		map[string]string{"session_id": "no-such-id", "message": "hello"})
	req.Equal(http.StatusNotFound, resp.StatusCode)
	req.NotEmpty(body["error"])
}

func TestHTTP_Poll_After_Leave_Reports_An_Expired_Session(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	sessionID := join(t, srv, "alice")

	resp, body := postJSON(t, srv.URL+"/leave", map[string]string{"session_id": sessionID})
	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal(true, body["success"])

	pollResp, err := http.Get(srv.URL + "/messages?session_id=" + sessionID)
	req.NoError(err)
	pollBody := decodeBody(t, pollResp)
	req.Equal(http.StatusUnauthorized, pollResp.StatusCode)
	req.Equal(true, pollBody["session_expired"])
}

func TestHTTP_Preflight_Gets_CORS_Headers(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	request, err := http.NewRequest(http.MethodOptions, srv.URL+"/join", nil)
	req.NoError(err)
	resp, err := http.DefaultClient.Do(request)
	req.NoError(err)
	defer resp.Body.Close()

	req.Equal(http.StatusOK, resp.StatusCode)
	req.Equal("*", resp.Header.Get("Access-Control-Allow-Origin"))
}
