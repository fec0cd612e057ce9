package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/voiceline/checkgate/checklist"
	"github.com/voiceline/checkgate/engine"
	"github.com/voiceline/checkgate/session"
	"github.com/voiceline/checkgate/tool"
	"github.com/voiceline/checkgate/upstream"
)

// newTestServer wires a full gateway against a scripted upstream endpoint.
func newTestServer(t *testing.T, upstreamFrames []string) (*httptest.Server, *checklist.Store) {
	t.Helper()

	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, frame := range upstreamFrames {
			fmt.Fprintf(w, "data: %s\n\n", frame)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(fake.Close)

	store := checklist.NewStore(checklist.DefaultItems())
	sessions := session.NewStore(store)
	reg := tool.NewRegistry()
	require.NoError(t, checklist.RegisterTools(reg, store, func() { sessions.Reset() }))

	client := upstream.NewClient(fake.URL, "test-key")
	eng := engine.New(client, reg, sessions, func(o *engine.Options) {
		o.Model = "gpt-4o-mini"
	})

	srv := New(eng, store, func() { sessions.Reset() }, func(o *Options) {
		o.Model = "gpt-4o-mini"
		o.KeepAliveInterval = 50 * time.Millisecond
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func sseDataLines(t *testing.T, body string) []string {
	t.Helper()
	var events []string
	for _, line := range strings.Split(body, "\n") {
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			events = append(events, data)
		}
	}
	return events
}

func TestChecklistSnapshotEndpoint(t *testing.T) {
	ts, store := newTestServer(t, nil)

	rec := "use string uids"
	store.Update(checklist.Locator{ID: "item-1"}, checklist.StatusFail, &rec)

	resp, err := http.Get(ts.URL + "/checklist")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")

	var snap checklist.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	require.Len(t, snap.Items, 3)
	assert.Equal(t, checklist.StatusFail, snap.Items[0].Status)
	assert.Equal(t, "use string uids", snap.Items[0].Recommendation)
}

func TestChecklistResetEndpoint(t *testing.T) {
	ts, store := newTestServer(t, nil)

	store.Update(checklist.Locator{Number: 1}, checklist.StatusComplete, nil)

	resp, err := http.Post(ts.URL+"/checklist/reset", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var payload struct {
		Success bool             `json:"success"`
		Items   []checklist.Item `json:"items"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.True(t, payload.Success)
	for _, item := range payload.Items {
		assert.Equal(t, checklist.StatusPending, item.Status)
	}
}

func TestChecklistStreamDeliversUpdates(t *testing.T) {
	ts, store := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/checklist/stream")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	reader := bufio.NewReader(resp.Body)
	readEvent := func() string {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: "); ok {
				return data
			}
		}
	}

	// Snapshot arrives immediately on connect.
	first := gjson.Parse(readEvent())
	assert.Len(t, first.Get("items").Array(), 3)
	assert.Equal(t, "pending", first.Get("items.0.status").String())

	store.Update(checklist.Locator{ID: "item-1"}, checklist.StatusComplete, nil)

	second := gjson.Parse(readEvent())
	assert.Equal(t, "complete", second.Get("items.0.status").String())
}

func TestChatRejectsBadRequests(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	tests := []struct {
		name   string
		body   string
		status int
		errMsg string
	}{
		{"invalid json", `{not json`, http.StatusBadRequest, "Request body must be valid JSON."},
		{"non-object", `[1,2,3]`, http.StatusBadRequest, "Request body must be an object."},
		{"empty body", ``, http.StatusBadRequest, "Request body must be an object."},
		{"stream false", `{"stream":false,"messages":[{"role":"user","content":"hi"}]}`, http.StatusBadRequest, "This endpoint requires stream=true."},
		{"no messages", `{"stream":true,"messages":[]}`, http.StatusBadRequest, "At least one message is required."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(ts.URL+"/chat/completions", "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)

			var payload map[string]string
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
			assert.Equal(t, tt.errMsg, payload["error"])
		})
	}
}

func TestChatRejectsOversizedBody(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	body := `{"stream":true,"messages":[{"role":"user","content":"` +
		strings.Repeat("x", 1_000_001) + `"}]}`
	resp, err := http.Post(ts.URL+"/chat/completions", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestChatStreamsCompletion(t *testing.T) {
	ts, _ := newTestServer(t, []string{
		`{"choices":[{"delta":{"role":"assistant","content":"Hello "}}]}`,
		`{"choices":[{"delta":{"content":"there"}}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	})

	resp, err := http.Post(ts.URL+"/chat/completions", "application/json",
		strings.NewReader(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var raw strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		raw.Write(buf[:n])
		if err != nil {
			break
		}
	}

	events := sseDataLines(t, raw.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	var text string
	var sawStop bool
	for _, ev := range events[:len(events)-1] {
		parsed := gjson.Parse(ev)
		text += parsed.Get("choices.0.delta.content").String()
		if parsed.Get("choices.0.finish_reason").String() == "stop" {
			sawStop = true
		}
	}
	assert.Equal(t, "Hello there", text)
	assert.True(t, sawStop)
}

func TestChatEmitsInlineErrorWhenUpstreamFails(t *testing.T) {
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer fake.Close()

	store := checklist.NewStore(checklist.DefaultItems())
	sessions := session.NewStore(store)
	eng := engine.New(upstream.NewClient(fake.URL, "test-key"), tool.NewRegistry(), sessions,
		func(o *engine.Options) { o.Model = "gpt-4o-mini" })
	srv := New(eng, store, nil, func(o *Options) { o.Model = "gpt-4o-mini" })

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/chat/completions", "application/json",
		strings.NewReader(`{"stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	// Stream already opened, so the failure arrives inline as a chunk.
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var raw strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		raw.Write(buf[:n])
		if err != nil {
			break
		}
	}

	events := sseDataLines(t, raw.String())
	require.NotEmpty(t, events)
	assert.Equal(t, "[DONE]", events[len(events)-1])

	errChunk := gjson.Parse(events[len(events)-2])
	assert.Equal(t, streamErrorText, errChunk.Get("choices.0.delta.content").String())
	assert.Equal(t, "stop", errChunk.Get("choices.0.finish_reason").String())
}

func TestCORSPreflight(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/chat/completions", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://console.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET,POST,OPTIONS", resp.Header.Get("Access-Control-Allow-Methods"))
}

func TestNotFound(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, "Not found.", payload["error"])
}
