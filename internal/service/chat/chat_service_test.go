package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"recipe-gateway/internal/domain/chat"
	xerrors "recipe-gateway/internal/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackends struct {
	vector      *httptest.Server
	llm         *httptest.Server
	searchBody  map[string]interface{}
	trainBody   map[string]interface{}
	completion  map[string]interface{}
	authHeader  string
	vectorDown  bool
	llmStatus   int
	trainStatus int
}

func newFakeBackends(t *testing.T) *fakeBackends {
	t.Helper()
	f := &fakeBackends{llmStatus: http.StatusOK, trainStatus: http.StatusOK}

	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if f.vectorDown {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&f.searchBody); err != nil {
			t.Errorf("decode search body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"title":"Pilau","text":"Rice, spices.","score":0.91234,"id":"r1"}]}`))
	})
	mux.HandleFunc("/train", func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&f.trainBody); err != nil {
			t.Errorf("decode train body: %v", err)
		}
		w.WriteHeader(f.trainStatus)
		if f.trainStatus != http.StatusOK {
			_, _ = w.Write([]byte("index locked"))
			return
		}
		_, _ = w.Write([]byte(`{"chunks":12}`))
	})
	f.vector = httptest.NewServer(mux)
	t.Cleanup(f.vector.Close)

	f.llm = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.authHeader = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&f.completion); err != nil {
			t.Errorf("decode completion body: %v", err)
		}
		w.WriteHeader(f.llmStatus)
		if f.llmStatus != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":"quota"}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Soak the rice first."}}]}`))
	}))
	t.Cleanup(f.llm.Close)

	return f
}

func (f *fakeBackends) service(key string) *ChatService {
	return NewChatService(Config{
		VectorURL: f.vector.URL,
		LLMURL:    f.llm.URL,
		APIKey:    key,
	}, nil, nil)
}

func TestAsk_RetrievesThenCompletes(t *testing.T) {
	f := newFakeBackends(t)

	answer, err := f.service("gsk-test").Ask(context.Background(), "how do I make pilau?", nil)
	require.NoError(t, err)
	require.NotNil(t, answer.Reply)
	assert.Equal(t, "Soak the rice first.", *answer.Reply)

	assert.Equal(t, "how do I make pilau?", f.searchBody["q"])
	assert.Equal(t, float64(4), f.searchBody["k"])

	assert.Equal(t, "Bearer gsk-test", f.authHeader)
	assert.Equal(t, "llama-3.1-8b-instant", f.completion["model"])
	assert.Equal(t, float64(800), f.completion["max_tokens"])
	assert.Equal(t, 0.2, f.completion["temperature"])

	messages := f.completion["messages"].([]interface{})
	require.Len(t, messages, 3)
	ref := messages[1].(map[string]interface{})["content"].(string)
	assert.Equal(t, "Reference documents (use to answer if applicable):\nDocument 1 (score=0.912):\nTitle: Pilau\nRice, spices.\n---", ref)

	// sources keep fields the gateway does not model
	out, err := json.Marshal(answer)
	require.NoError(t, err)
	assert.JSONEq(t, `{"reply":"Soak the rice first.","sources":[{"title":"Pilau","text":"Rice, spices.","score":0.91234,"id":"r1"}]}`, string(out))
}

func TestAsk_SearchFailureDegrades(t *testing.T) {
	f := newFakeBackends(t)
	f.vectorDown = true

	answer, err := f.service("k").Ask(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Empty(t, answer.Sources)
	assert.NotNil(t, answer.Sources)
	assert.Len(t, f.completion["messages"], 2)
}

func TestAsk_CustomSystemPrompt(t *testing.T) {
	msgs := BuildMessages("hi", strPtr("be brief"), nil)
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.Message{Role: "system", Content: "be brief"}, msgs[0])
	assert.Equal(t, chat.Message{Role: "user", Content: "hi"}, msgs[1])

	msgs = BuildMessages("hi", nil, nil)
	assert.Equal(t, DefaultSystemPrompt, msgs[0].Content)
}

func TestAsk_Errors(t *testing.T) {
	f := newFakeBackends(t)

	_, err := f.service("").Ask(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, xerrors.ErrNotConfigured)

	f.llmStatus = http.StatusTooManyRequests
	_, err = f.service("k").Ask(context.Background(), "hi", nil)
	ue, ok := xerrors.AsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusTooManyRequests, ue.Status)
	assert.Equal(t, `{"error":"quota"}`, string(ue.Body))

	svc := NewChatService(Config{VectorURL: f.vector.URL, LLMURL: "http://127.0.0.1:1", APIKey: "k"}, nil, nil)
	_, err = svc.Ask(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, xerrors.ErrUpstreamUnreachable)
}

func TestTrain_AppliesDefaults(t *testing.T) {
	f := newFakeBackends(t)

	data, err := f.service("").Train(context.Background(), chat.TrainRequest{SourceURL: "https://example.com/recipes.csv", ChunkSize: 512})
	require.NoError(t, err)
	assert.JSONEq(t, `{"chunks":12}`, string(data))

	assert.Equal(t, map[string]interface{}{
		"source_url":    "https://example.com/recipes.csv",
		"index_path":    "out.index",
		"meta_path":     "meta.json",
		"model":         "sentence-transformers/all-MiniLM-L6-v2",
		"chunk_size":    float64(512),
		"chunk_overlap": float64(80),
	}, f.trainBody)
}

func TestTrain_UpstreamStatus(t *testing.T) {
	f := newFakeBackends(t)
	f.trainStatus = http.StatusConflict

	_, err := f.service("").Train(context.Background(), chat.TrainRequest{SourceURL: "x"})
	ue, ok := xerrors.AsUpstream(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, ue.Status)
	assert.Equal(t, "index locked", string(ue.Body))
}

func strPtr(s string) *string { return &s }
