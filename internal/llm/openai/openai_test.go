package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efebarandurmaz/skillmatch/internal/llm"
)

type fakeServer struct {
	chatBody  map[string]any
	embedBody map[string]any
	embedResp string
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		json.NewDecoder(r.Body).Decode(&f.chatBody)
		w.Write([]byte(`{
			"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "llama-3-70b",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "<think>hmm</think>1"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
		}`))
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		json.NewDecoder(r.Body).Decode(&f.embedBody)
		w.Write([]byte(f.embedResp))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return New("sk-test", "llama-3-70b", srv.URL+"/v1", "bge-large", srv.Client())
}

func TestComplete(t *testing.T) {
	f := &fakeServer{}
	c := newTestClient(t, f)

	temp := 0.7
	resp, err := c.Complete(context.Background(), llm.UserPrompt("You are a librarian.", "Pick one"), &llm.RequestOptions{Temperature: &temp})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "<think>hmm</think>1" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("usage = %d/%d", resp.InputTokens, resp.OutputTokens)
	}

	if f.chatBody["model"] != "llama-3-70b" {
		t.Errorf("model = %v", f.chatBody["model"])
	}
	if f.chatBody["temperature"] != 0.7 {
		t.Errorf("temperature = %v", f.chatBody["temperature"])
	}
	msgs, _ := f.chatBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", f.chatBody["messages"])
	}
	if first := msgs[0].(map[string]any); first["role"] != "system" {
		t.Errorf("first message role = %v", first["role"])
	}
}

func TestEmbed_OrdersByIndex(t *testing.T) {
	f := &fakeServer{embedResp: `{
		"object": "list", "model": "bge-large",
		"data": [
			{"object": "embedding", "index": 1, "embedding": [0.0, 1.0]},
			{"object": "embedding", "index": 0, "embedding": [1.0, 0.0]}
		],
		"usage": {"prompt_tokens": 4, "total_tokens": 4}
	}`}
	c := newTestClient(t, f)

	vecs, err := c.Embed(context.Background(), []string{"C#", "F#"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs[0][0] != 1 || vecs[1][1] != 1 {
		t.Errorf("vectors not placed by index: %v", vecs)
	}
	if f.embedBody["model"] != "bge-large" {
		t.Errorf("embed model = %v", f.embedBody["model"])
	}
}

func TestEmbed_MissingRow(t *testing.T) {
	f := &fakeServer{embedResp: `{
		"object": "list", "model": "bge-large",
		"data": [{"object": "embedding", "index": 0, "embedding": [1.0]}],
		"usage": {"prompt_tokens": 2, "total_tokens": 2}
	}`}
	c := newTestClient(t, f)

	if _, err := c.Embed(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for missing embedding")
	}
}

func TestEmbed_Empty(t *testing.T) {
	c := New("k", "m", "", "", nil)
	if _, err := c.Embed(context.Background(), nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestName(t *testing.T) {
	if got := New("k", "m", "", "", nil).Name(); got != "openai" {
		t.Errorf("Name = %q", got)
	}
	if got := New("k", "m", "http://gpu-1:8000/v1", "", nil).Name(); got != "openai@http://gpu-1:8000/v1" {
		t.Errorf("Name = %q", got)
	}
}
