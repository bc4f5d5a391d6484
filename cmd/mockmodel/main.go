// Package main provides a standalone mock model server for exercising the
// gateway's HTTP provider. It simulates completion latency and injectable
// failure modes, useful for testing retries, the circuit breaker, and the
// latency budget end to end.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"
)

type completionRequest struct {
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

func main() {
	port := flag.Int("port", 9000, "port to listen on")
	minLatency := flag.Duration("min-latency", 50*time.Millisecond, "minimum simulated latency")
	maxLatency := flag.Duration("max-latency", 1200*time.Millisecond, "maximum simulated latency")
	failureRate := flag.Float64("failure-rate", 0.05, "probability of a 500 response")
	hangRate := flag.Float64("hang-rate", 0.10, "probability of hanging past any client timeout")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}

	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	http.HandleFunc("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "use POST", http.StatusMethodNotAllowed)
			return
		}

		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prompt == "" {
			http.Error(w, "prompt is required", http.StatusBadRequest)
			return
		}

		if rng.Float64() < *hangRate {
			// Hold the request well past any sane client timeout so the
			// caller observes a timeout rather than a response.
			select {
			case <-r.Context().Done():
			case <-time.After(60 * time.Second):
			}
			return
		}

		spread := *maxLatency - *minLatency
		delay := *minLatency + time.Duration(rng.Int64N(int64(spread)+1))
		select {
		case <-r.Context().Done():
			return
		case <-time.After(delay):
		}

		if rng.Float64() < *failureRate {
			http.Error(w, "simulated model failure", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(completionResponse{
			Text: "[MOCK COMPLETION] " + truncate(req.Prompt, 60),
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("mock model listening on %s (latency %s-%s, failure %.2f, hang %.2f)",
		addr, *minLatency, *maxLatency, *failureRate, *hangRate)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// truncate caps s at n runes, flattening newlines.
func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
