// Package providers implements the external collaborator clients: an
// OpenAI-compatible chat endpoint for fragment evolution and an
// OpenAI-compatible embeddings endpoint for retrieval. Every call carries a
// hard timeout and goes through a shared rate limiter; a failed call is
// always scoped to one fragment kind or one embed batch, never to a pass.
package providers

import "encoding/json"

// Embedding modes. Query and passage texts are prefixed differently so
// asymmetric embedding models rank them correctly.
const (
	ModeQuery   = "query"
	ModePassage = "passage"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error,omitempty"`
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// rawJSON extracts the first JSON object from a model reply. Models in JSON
// mode occasionally wrap the object in a code fence; tolerate that.
func rawJSON(content string) (json.RawMessage, bool) {
	start := -1
	depth := 0
	for i := 0; i < len(content); i++ {
		switch content[i] {
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 {
					candidate := json.RawMessage(content[start : i+1])
					if json.Valid(candidate) {
						return candidate, true
					}
				}
			}
		}
	}
	return nil, false
}
