// fake-telegram answers the Bot API sendMessage method so keepsake can be run
// locally without a real bot:
//
//	TELEGRAM_API_URL=http://localhost:8081 TELEGRAM_BOT_TOKEN=dev TELEGRAM_CHAT_ID=1 keepsake check
//
// Received messages are printed and kept for GET /stats.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type message struct {
	Timestamp string `json:"timestamp"`
	Token     string `json:"token"`
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
}

type stats struct {
	Count        int64     `json:"count"`
	LastMessages []message `json:"last_messages"`
	Since        string    `json:"since"`
}

type sendMessageBody struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

const maxStored = 50

type server struct {
	// failChat answers ok=false for this chat, to exercise the circuit breaker.
	failChat string

	mu       sync.Mutex
	count    int64
	messages []message
	since    time.Time
}

func newServer(failChat string) *server {
	return &server{failChat: failChat, since: time.Now().UTC()}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.sendMessage)
	mux.HandleFunc("GET /stats", s.stats)
	mux.HandleFunc("POST /reset", s.reset)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func main() {
	addr := ":8081"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	s := newServer(os.Getenv("FAIL_CHAT_ID"))

	log.Printf("fake-telegram listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, s.routes()))
}

// sendMessage handles POST /bot<token>/sendMessage.
func (s *server) sendMessage(w http.ResponseWriter, r *http.Request) {
	token, ok := parseToken(r.URL.Path)
	if !ok || r.Method != http.MethodPost {
		reply(w, http.StatusNotFound, apiResponse{ErrorCode: 404, Description: "Not Found"})
		return
	}

	var body sendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ChatID == "" || body.Text == "" {
		reply(w, http.StatusBadRequest, apiResponse{ErrorCode: 400, Description: "Bad Request: chat_id and text are required"})
		return
	}
	if s.failChat != "" && body.ChatID == s.failChat {
		reply(w, http.StatusBadRequest, apiResponse{ErrorCode: 400, Description: "Bad Request: chat not found"})
		return
	}

	msg := message{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Token:     token,
		ChatID:    body.ChatID,
		Text:      body.Text,
	}

	s.mu.Lock()
	s.count++
	s.messages = append(s.messages, msg)
	if len(s.messages) > maxStored {
		s.messages = s.messages[len(s.messages)-maxStored:]
	}
	current := s.count
	s.mu.Unlock()

	log.Printf("message #%d chat=%s:\n%s", current, body.ChatID, body.Text)
	reply(w, http.StatusOK, apiResponse{OK: true})
}

func (s *server) stats(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	st := stats{
		Count:        s.count,
		LastMessages: append([]message(nil), s.messages...),
		Since:        s.since.Format(time.RFC3339),
	}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(st)
}

func (s *server) reset(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.count = 0
	s.messages = nil
	s.since = time.Now().UTC()
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}

func parseToken(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/bot")
	if !ok {
		return "", false
	}
	token, ok := strings.CutSuffix(rest, "/sendMessage")
	if !ok || token == "" || strings.Contains(token, "/") {
		return "", false
	}
	return token, true
}

func reply(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
