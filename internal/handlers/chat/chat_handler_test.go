package chat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	chatsvc "recipe-gateway/internal/service/chat"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(llmURL, vectorURL, key string) *gin.Engine {
	svc := chatsvc.NewChatService(chatsvc.Config{VectorURL: vectorURL, LLMURL: llmURL, APIKey: key}, nil, nil)
	h := NewChatHandler(svc, nil)

	r := gin.New()
	r.POST("/api/chat", h.Chat)
	r.POST("/api/train", h.Train)
	return r
}

func post(r *gin.Engine, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestChat_Validation(t *testing.T) {
	r := newRouter("http://127.0.0.1:1", "http://127.0.0.1:1", "")

	w := post(r, "/api/chat", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "No message provided")

	w = post(r, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "not configured")
}

func TestChat_UpstreamError(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("bad key"))
	}))
	defer llm.Close()

	r := newRouter(llm.URL, "http://127.0.0.1:1", "k")
	w := post(r, "/api/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"Upstream error","details":"bad key"}`, w.Body.String())
}

func TestChat_OK(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"Use ripe tomatoes."}}]}`))
	}))
	defer llm.Close()

	r := newRouter(llm.URL, "http://127.0.0.1:1", "k")
	w := post(r, "/api/chat", `{"message":"salsa?"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reply":"Use ripe tomatoes.","sources":[]}`, w.Body.String())
}

func TestTrain(t *testing.T) {
	vector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "train") {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte("bad url"))
		}
	}))
	defer vector.Close()

	r := newRouter("", vector.URL, "")

	w := post(r, "/api/train", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "source_url is required")

	w = post(r, "/api/train", `{"source_url":"ftp://nope"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.JSONEq(t, `{"error":"Train API error","details":"bad url"}`, w.Body.String())
}
