package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markis/aichat/internal/conversation"
	"github.com/markis/aichat/internal/stream"
)

type recorder struct {
	mu     sync.Mutex
	texts  []string
	events []string
	err    error
}

func (r *recorder) OnFragment(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	r.events = append(r.events, "fragment")
}

func (r *recorder) OnCompleted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "completed")
}

func (r *recorder) OnFailed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "failed")
	r.err = err
}

func history() []conversation.Message {
	return []conversation.Message{
		conversation.NewMessage(conversation.RoleAssistant, "welcome"),
		conversation.NewMessage(conversation.RoleUser, "hi"),
		conversation.NewMessage(conversation.RoleAssistant, ""),
	}
}

// sse writes frames one by one, flushing after each so the client sees
// separate chunks.
func sse(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	for _, f := range frames {
		fmt.Fprint(w, f)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func TestChat_Request(t *testing.T) {
	var (
		mu     sync.Mutex
		got    chatRequest
		header http.Header
		path   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		path = r.URL.Path
		header = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		mu.Unlock()
		sse(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	c := New(srv.URL+"/v1/", "test-model", "sk-test", WithHeaders(map[string]string{"X-Extra": "1"}))
	out := c.Chat(context.Background(), history(), &recorder{})
	require.Equal(t, stream.StateCompleted, out.State)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "/v1/chat/completions", path)
	assert.Equal(t, "Bearer sk-test", header.Get("Authorization"))
	assert.Equal(t, "application/json", header.Get("Content-Type"))
	assert.Equal(t, "text/event-stream", header.Get("Accept"))
	assert.Equal(t, "enable", header.Get("X-DashScope-SSE"))
	assert.Equal(t, "1", header.Get("X-Extra"))

	assert.Equal(t, "test-model", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, []Message{{Role: "assistant", Content: "welcome"}, {Role: "user", Content: "hi"}}, got.Messages)
}

func TestChat_Streams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w,
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n",
			"\ndata: {\"choices\":[{\"del",
			"ta\":{\"content\":\"lo\"}}]}\n\n",
			"data: not-json\n\n",
			"data: {\"output\":{\"text\":\"!\"}}\n\n",
			"data: [DONE]\n\n",
		)
	}))
	defer srv.Close()

	rec := &recorder{}
	out := New(srv.URL, "", "", WithChunkSize(7)).Chat(context.Background(), history(), rec)

	assert.Equal(t, stream.StateCompleted, out.State)
	assert.Equal(t, []string{"Hel", "Hello", "Hello!"}, rec.texts)
	assert.Equal(t, "completed", rec.events[len(rec.events)-1])
}

func TestChat_StatusError(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"error":{"message":"Invalid API key"}}`, "Invalid API key"},
		{`{"message":"quota exceeded"}`, "quota exceeded"},
		{`<html>oops</html>`, "HTTP error! status: 500"},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, tt.body)
		}))

		rec := &recorder{}
		out := New(srv.URL, "", "").Chat(context.Background(), history(), rec)
		srv.Close()

		assert.Equal(t, stream.StateFailed, out.State)
		assert.Equal(t, []string{"failed"}, rec.events)
		var terr *stream.TransportError
		require.True(t, errors.As(out.Err, &terr))
		assert.Equal(t, http.StatusInternalServerError, terr.Status)
		assert.Equal(t, tt.want, rec.err.Error())
	}
}

func TestChat_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &recorder{}
	out := New(url, "", "").Chat(context.Background(), history(), rec)

	assert.Equal(t, stream.StateFailed, out.State)
	assert.Equal(t, []string{"failed"}, rec.events)
}

func TestChat_Cancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{}
	sub := stream.Multi(rec, stream.Funcs{Fragment: func(string) { cancel() }})

	done := make(chan stream.Outcome, 1)
	go func() {
		done <- New(srv.URL, "", "").Chat(ctx, history(), sub)
	}()

	select {
	case out := <-done:
		assert.Equal(t, stream.StateCancelled, out.State)
	case <-time.After(5 * time.Second):
		t.Fatal("cancelled session did not return")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"fragment"}, rec.events)
}

func TestChat_CleanCloseCompletes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sse(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer srv.Close()

	rec := &recorder{}
	out := New(srv.URL, "", "").Chat(context.Background(), history(), rec)

	assert.Equal(t, stream.StateCompleted, out.State)
	assert.Equal(t, "partial", out.Text)
	assert.Equal(t, []string{"fragment", "completed"}, rec.events)
}
