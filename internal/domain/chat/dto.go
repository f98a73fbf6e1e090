// internal/domain/chat/dto.go
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Document is one vector-search hit. The original JSON is kept so sources are
// relayed to the client unchanged.
type Document struct {
	Title string
	Text  string
	Score float64
	raw   json.RawMessage
}

func (d *Document) UnmarshalJSON(b []byte) error {
	var fields struct {
		Title string  `json:"title"`
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	d.Title, d.Text, d.Score = fields.Title, fields.Text, fields.Score
	d.raw = append(json.RawMessage(nil), b...)
	return nil
}

func (d Document) MarshalJSON() ([]byte, error) {
	if len(d.raw) > 0 {
		return d.raw, nil
	}
	return json.Marshal(map[string]interface{}{
		"title": d.Title,
		"text":  d.Text,
		"score": d.Score,
	})
}

// FormatDocuments renders search hits as the reference block handed to the model.
func FormatDocuments(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for i, d := range docs {
		parts = append(parts, fmt.Sprintf("Document %d (score=%.3f):\nTitle: %s\n%s\n---", i+1, d.Score, d.Title, d.Text))
	}
	return strings.Join(parts, "\n\n")
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Message string  `json:"message"`
	System  *string `json:"system,omitempty"`
}

// ChatResponse is the body returned by POST /api/chat.
type ChatResponse struct {
	Reply   *string    `json:"reply"`
	Sources []Document `json:"sources"`
}

// TrainRequest is the body of POST /api/train, forwarded with defaults filled in.
type TrainRequest struct {
	SourceURL    string `json:"source_url"`
	IndexPath    string `json:"index_path"`
	MetaPath     string `json:"meta_path"`
	Model        string `json:"model"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
}

const (
	DefaultIndexPath    = "out.index"
	DefaultMetaPath     = "meta.json"
	DefaultEmbedModel   = "sentence-transformers/all-MiniLM-L6-v2"
	DefaultChunkSize    = 1024
	DefaultChunkOverlap = 80
)

// WithDefaults fills unset optional fields.
func (r TrainRequest) WithDefaults() TrainRequest {
	if r.IndexPath == "" {
		r.IndexPath = DefaultIndexPath
	}
	if r.MetaPath == "" {
		r.MetaPath = DefaultMetaPath
	}
	if r.Model == "" {
		r.Model = DefaultEmbedModel
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = DefaultChunkSize
	}
	if r.ChunkOverlap == 0 {
		r.ChunkOverlap = DefaultChunkOverlap
	}
	return r
}
