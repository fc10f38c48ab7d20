package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/dodochat/internal/admission"
	"github.com/ChamsBouzaiene/dodochat/internal/chat"
	"github.com/ChamsBouzaiene/dodochat/internal/engine"
	"github.com/ChamsBouzaiene/dodochat/internal/models"
	"github.com/ChamsBouzaiene/dodochat/internal/session"
)

// scriptedLLM streams a fixed reply, optionally waiting on block first.
type scriptedLLM struct {
	block chan struct{}
}

func (l *scriptedLLM) Stream(ctx context.Context, model string, msgs []engine.ChatMessage, opts engine.ChatOptions) (<-chan engine.StreamEvent, <-chan error) {
	events := make(chan engine.StreamEvent)
	errs := make(chan error, 1)
	go func() {
		defer close(errs)
		defer close(events)
		if l.block != nil {
			select {
			case <-l.block:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		for _, ev := range []engine.StreamEvent{
			{Type: engine.EventDelta, Reasoning: "thinking"},
			{Type: engine.EventDelta, Text: "Hello"},
			{Type: engine.EventDelta, Text: " there"},
		} {
			select {
			case events <- ev:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		errs <- nil
	}()
	return events, errs
}

type fixture struct {
	srv  *httptest.Server
	svc  *chat.Service
	gate *admission.Gate
}

func newFixture(t *testing.T, llm engine.LLMClient, gate *admission.Gate) *fixture {
	t.Helper()
	reg, err := models.NewRegistry([]models.Profile{
		{ID: "thinker", Endpoint: "http://a", Credential: "secret-key", SupportsReasoning: true},
		{ID: "plain", Endpoint: "http://b", Credential: "secret-key"},
	})
	require.NoError(t, err)

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	sessions := session.NewManager(session.Defaults{ContextTurns: 10, SystemPrompt: "You are a helpful AI assistant."})
	svc := chat.NewService(reg, func(models.Profile) (engine.LLMClient, error) { return llm, nil }, sessions, log)
	if gate == nil {
		gate = admission.NewGate(4, 4)
	}

	srv := httptest.NewServer(New("", svc, gate, log).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, svc: svc, gate: gate}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *fixture) createSession(t *testing.T) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/api/sessions", "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var body struct {
		Settings struct {
			ID string `json:"id"`
		} `json:"settings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.Settings.ID)
	return body.Settings.ID
}

type sseEvent struct {
	Event string
	Data  string
}

func readSSE(t *testing.T, resp *http.Response) []sseEvent {
	t.Helper()
	var out []sseEvent
	var cur sseEvent
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.Data = strings.TrimPrefix(line, "data: ")
		case line == "":
			if cur.Event != "" {
				out = append(out, cur)
			}
			cur = sseEvent{}
		}
	}
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, nil)
	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListModelsHidesCredentials(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, nil)
	resp := f.do(t, http.MethodGet, "/api/models", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 2)
	assert.Equal(t, "thinker", got[0]["id"])
	assert.NotContains(t, got[0], "credential")
	assert.NotContains(t, got[0], "endpoint")
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, nil)
	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/sessions/nope"},
		{http.MethodDelete, "/api/sessions/nope"},
		{http.MethodPost, "/api/sessions/nope/messages"},
		{http.MethodPut, "/api/sessions/nope/model"},
	} {
		resp := f.do(t, tc.method, tc.path, `{}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, tc.method+" "+tc.path)
	}
}

func TestSubmitStreamsUpdates(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, nil)
	id := f.createSession(t)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"message":"Hi"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := readSSE(t, resp)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "done", last.Event)

	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.Data), &done))
	assert.Equal(t, true, done["reasoning_shown"])
	entry := done["entry"].(map[string]any)
	assert.Contains(t, entry["content"], "Hello there")

	// user, placeholder, five fragments, final
	var updates int
	for _, ev := range events {
		if ev.Event == "update" {
			updates++
		}
	}
	assert.Equal(t, 8, updates)

	resp = f.do(t, http.MethodGet, "/api/sessions/"+id, "")
	var sess struct {
		Entries []map[string]any `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sess))
	assert.Len(t, sess.Entries, 2)
}

func TestSubmitBusy(t *testing.T) {
	llm := &scriptedLLM{block: make(chan struct{})}
	f := newFixture(t, llm, nil)
	id := f.createSession(t)
	conv, err := f.svc.Sessions().Get(id)
	require.NoError(t, err)

	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(f.srv.URL+"/api/sessions/"+id+"/messages", "application/json", strings.NewReader(`{"message":"one"}`))
		if err != nil {
			first <- 0
			return
		}
		readSSE(t, resp)
		resp.Body.Close()
		first <- resp.StatusCode
	}()
	require.Eventually(t, conv.Busy, 2*time.Second, 10*time.Millisecond)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"message":"two"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(llm.block)
	assert.Equal(t, http.StatusOK, <-first)
}

func TestSubmitBacklogFull(t *testing.T) {
	gate := admission.NewGate(1, 1)
	f := newFixture(t, &scriptedLLM{}, gate)
	id := f.createSession(t)

	release, err := gate.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = gate.Acquire(ctx) }()
	require.Eventually(t, func() bool { return gate.Waiting() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"message":"Hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSettingsEndpoints(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, nil)
	id := f.createSession(t)
	base := "/api/sessions/" + id

	resp := f.do(t, http.MethodPut, base+"/context", `{"context_size":3}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st struct {
		Status   string `json:"status"`
		Settings struct {
			ContextTurns int `json:"context_turns"`
		} `json:"settings"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "上下文记忆已设置为 3 轮对话", st.Status)
	assert.Equal(t, 3, st.Settings.ContextTurns)

	resp = f.do(t, http.MethodPut, base+"/model", `{"model_id":"plain"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var settings struct {
		SelectedModel     string `json:"selected_model"`
		ReasoningEnabled  bool   `json:"reasoning_enabled"`
		SupportsReasoning bool   `json:"supports_reasoning"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	assert.Equal(t, "plain", settings.SelectedModel)
	assert.False(t, settings.ReasoningEnabled)
	assert.False(t, settings.SupportsReasoning)

	resp = f.do(t, http.MethodPut, base+"/reasoning", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&settings))
	assert.False(t, settings.ReasoningEnabled)

	resp = f.do(t, http.MethodPut, base+"/system_prompt", `{"prompt":"Be brief."}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodPut, base+"/model", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestResetAndDelete(t *testing.T) {
	f := newFixture(t, &scriptedLLM{}, nil)
	id := f.createSession(t)

	resp := f.do(t, http.MethodPost, "/api/sessions/"+id+"/messages", `{"message":"Hi"}`)
	readSSE(t, resp)

	resp = f.do(t, http.MethodDelete, "/api/sessions/"+id+"/transcript", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	conv, err := f.svc.Sessions().Get(id)
	require.NoError(t, err)
	assert.Empty(t, conv.Entries())

	resp = f.do(t, http.MethodPost, "/api/sessions/"+id+"/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = f.do(t, http.MethodGet, "/api/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
