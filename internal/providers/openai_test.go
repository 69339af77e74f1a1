package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/recall/internal/fragment"
)

func TestRawJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{`{"a":1}`, `{"a":1}`, true},
		{"```json\n{\"a\":1}\n```", `{"a":1}`, true},
		{`noise before {"entries":[]} noise after`, `{"entries":[]}`, true},
		{`not json`, ``, false},
		{`{"broken":`, ``, false},
	}
	for _, tc := range cases {
		got, ok := rawJSON(tc.in)
		if ok != tc.ok {
			t.Errorf("rawJSON(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			continue
		}
		if ok && string(got) != tc.want {
			t.Errorf("rawJSON(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestClient_Evolve(t *testing.T) {
	var gotBody chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"entries\":[{\"what\":\"use sqlite\"}]}"}}]}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{BaseURL: srv.URL, APIKey: "test-key"})
	if err != nil {
		t.Fatal(err)
	}

	prev := json.RawMessage(`{"entries":[]}`)
	raw, err := c.Evolve(context.Background(), fragment.KindDecisions, prev,
		map[fragment.Kind]json.RawMessage{fragment.KindFocus: json.RawMessage(`{"goal":"x"}`)},
		"user: let's use sqlite")
	if err != nil {
		t.Fatalf("Evolve: %v", err)
	}

	var dec fragment.Decisions
	if err := json.Unmarshal(raw, &dec); err != nil {
		t.Fatalf("response not decisions-shaped: %v", err)
	}
	if len(dec.Entries) != 1 || dec.Entries[0].What != "use sqlite" {
		t.Errorf("entries = %+v", dec.Entries)
	}

	if gotBody.ResponseFormat == nil || gotBody.ResponseFormat.Type != "json_object" {
		t.Error("request did not ask for JSON mode")
	}
	if len(gotBody.Messages) != 2 {
		t.Fatalf("messages = %d, want system+user", len(gotBody.Messages))
	}
	if !strings.Contains(gotBody.Messages[0].Content, "USER CORRECTION") {
		t.Error("evolve system prompt missing correction precedence rule")
	}
	if !strings.Contains(gotBody.Messages[1].Content, "let's use sqlite") {
		t.Error("user prompt missing evidence")
	}
	if !strings.Contains(gotBody.Messages[1].Content, `"goal":"x"`) {
		t.Error("user prompt missing sibling context")
	}
}

func TestClient_EvolveRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"sorry, I cannot"}}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	_, err := c.Evolve(context.Background(), fragment.KindInsights, nil, nil, "evidence")
	if err == nil {
		t.Fatal("expected error for non-JSON response")
	}
}

func TestClient_EvolveHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Evolve(context.Background(), fragment.KindFocus, nil, nil, "e"); err == nil {
		t.Fatal("expected error for HTTP 429")
	}
}

func TestClient_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Input) != 2 {
			t.Errorf("input = %d texts", len(req.Input))
		}
		if !strings.HasPrefix(req.Input[0], "search_query: ") {
			t.Errorf("query prefix missing: %q", req.Input[0])
		}
		// Return out of order; client must restore input order by index.
		w.Write([]byte(`{"data":[{"index":1,"embedding":[0.2]},{"index":0,"embedding":[0.1]}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	vecs, err := c.Embed(context.Background(), []string{"a", "b"}, ModeQuery)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 2 || vecs[0][0] != 0.1 || vecs[1][0] != 0.2 {
		t.Errorf("vectors = %v", vecs)
	}
}

func TestClient_EmbedPassagePrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !strings.HasPrefix(req.Input[0], "search_document: ") {
			t.Errorf("passage prefix missing: %q", req.Input[0])
		}
		w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer srv.Close()

	c, _ := NewClient(Config{BaseURL: srv.URL})
	if _, err := c.Embed(context.Background(), []string{"text"}, ModePassage); err != nil {
		t.Fatal(err)
	}
}

func TestNewClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatal("expected error for missing base URL")
	}
}
