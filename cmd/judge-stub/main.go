// Command judge-stub is a minimal OpenAI-compatible server that returns
// deterministic adjudication verdicts, for developing and testing the judge
// path without a real model.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "judge-stub"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		user := ""
		if n := len(req.Messages); n > 0 {
			user = strings.ToLower(req.Messages[n-1].Content)
		}

		verdict := map[string]any{"label": "benign", "confidence": 0.2, "reasons": []string{}}
		switch {
		case strings.Contains(user, "ignore") && strings.Contains(user, "instruction"),
			strings.Contains(user, "system prompt"),
			strings.Contains(user, "jailbreak"):
			verdict = map[string]any{
				"label":      "malicious",
				"confidence": 0.95,
				"reasons":    []string{"explicit instruction override phrasing"},
			}
		case strings.Contains(user, "bypass"), strings.Contains(user, "decode"):
			verdict = map[string]any{
				"label":      "suspicious",
				"confidence": 0.8,
				"reasons":    []string{"evasion-adjacent phrasing"},
			}
		}
		content, _ := json.Marshal(verdict)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "stub-1",
			"object": "chat.completion",
			"model":  model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": string(content)},
			}},
		})
	})

	log.Printf("judge-stub listening on %s (model %s)", addr, model)
	log.Fatal(http.ListenAndServe(addr, mux))
}
