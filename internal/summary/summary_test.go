package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSummarize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			http.Error(w, "no auth", http.StatusUnauthorized)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			http.Error(w, "bad messages", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse{
			Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: "Банкротств не найдено."}}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "")
	got, err := c.Summarize(context.Background(), map[string]any{"efrsb": "нет"})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got != "Банкротств не найдено." {
		t.Errorf("summary = %q", got)
	}
}

func TestSummarizeAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "rate limited"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "")
	if _, err := c.Summarize(context.Background(), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Summarize(context.Background(), nil)
	if err != ErrDisabled {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}
