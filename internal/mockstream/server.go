// Package mockstream is an httptest upstream for exercising the streaming
// client and the session end to end. Stream connections are scripted: each
// GET on the stream endpoint consumes the next queued Connection.
package mockstream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"streamscraper/pkg/models"
)

// Default endpoint paths, matching the v2 filtered stream
const (
	DefaultStreamPath = "/2/tweets/search/stream"
	DefaultRulesPath  = "/2/tweets/search/stream/rules"
)

// Connection scripts one stream response
type Connection struct {
	// Status defaults to 200
	Status  int
	Headers map[string]string
	// Body is written as-is for non-200 responses
	Body string
	// Lines are written with CRLF terminators, Interval apart
	Lines    []string
	Interval time.Duration
	// Hold keeps the connection open after the last line until the client leaves
	Hold bool
}

// RateLimited returns a 429 connection with a reset header resetAt
func RateLimited(resetAt time.Time) Connection {
	return Connection{
		Status:  http.StatusTooManyRequests,
		Headers: map[string]string{"x-rate-limit-reset": strconv.FormatInt(resetAt.Unix(), 10)},
		Body:    `{"title":"Too Many Requests","detail":"Too Many Requests","type":"about:blank","status":429}`,
	}
}

// Server simulates the streaming API
type Server struct {
	server     *httptest.Server
	token      string
	streamPath string
	rulesPath  string

	mu          sync.Mutex
	connections []Connection
	rules       []models.ActiveRule
	nextID      int
	ruleCalls   []string
	lastQuery   url.Values
	ruleStatus  int

	streamRequests atomic.Int32
	openStreams    atomic.Int32
}

// Options configures a Server
type Options struct {
	// Token is the expected bearer token; empty accepts any
	Token      string
	StreamPath string
	RulesPath  string
}

// New starts a mock upstream
func New(opts Options) *Server {
	if opts.StreamPath == "" {
		opts.StreamPath = DefaultStreamPath
	}
	if opts.RulesPath == "" {
		opts.RulesPath = DefaultRulesPath
	}

	s := &Server{
		token:      opts.Token,
		streamPath: opts.StreamPath,
		rulesPath:  opts.RulesPath,
		nextID:     1000,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(opts.StreamPath, s.handleStream)
	mux.HandleFunc(opts.RulesPath, s.handleRules)
	s.server = httptest.NewServer(mux)
	return s
}

// URL returns the base URL of the server
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the server down
func (s *Server) Close() {
	s.server.CloseClientConnections()
	s.server.Close()
}

// Enqueue appends scripted stream connections
func (s *Server) Enqueue(conns ...Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections = append(s.connections, conns...)
}

// SetRules replaces the server-side rules
func (s *Server) SetRules(rules ...models.ActiveRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append([]models.ActiveRule(nil), rules...)
}

// Rules returns the server-side rules
func (s *Server) Rules() []models.ActiveRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ActiveRule(nil), s.rules...)
}

// FailRules makes every rules request answer with status; zero restores normal behavior
func (s *Server) FailRules(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ruleStatus = status
}

// RuleCalls lists rule operations in order: "list", "add", "delete"
func (s *Server) RuleCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ruleCalls...)
}

// StreamRequests returns how many stream connections were attempted
func (s *Server) StreamRequests() int {
	return int(s.streamRequests.Load())
}

// OpenStreams returns how many stream connections are currently held
func (s *Server) OpenStreams() int {
	return int(s.openStreams.Load())
}

// LastStreamQuery returns the query of the latest stream request
func (s *Server) LastStreamQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastQuery
}

func (s *Server) authorized(w http.ResponseWriter, r *http.Request) bool {
	if s.token == "" || r.Header.Get("Authorization") == "Bearer "+s.token {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprint(w, `{"title":"Unauthorized","type":"about:blank","status":401,"detail":"Unauthorized"}`)
	return false
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.streamRequests.Add(1)
	s.mu.Lock()
	s.lastQuery = r.URL.Query()
	var conn Connection
	scripted := len(s.connections) > 0
	if scripted {
		conn = s.connections[0]
		s.connections = s.connections[1:]
	}
	s.mu.Unlock()

	if !s.authorized(w, r) {
		return
	}
	if !scripted {
		conn = Connection{Hold: true}
	}

	for k, v := range conn.Headers {
		w.Header().Set(k, v)
	}
	status := conn.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
		fmt.Fprint(w, conn.Body)
		return
	}

	s.openStreams.Add(1)
	defer s.openStreams.Add(-1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	flush()

	for _, line := range conn.Lines {
		if conn.Interval > 0 {
			select {
			case <-time.After(conn.Interval):
			case <-r.Context().Done():
				return
			}
		}
		if _, err := fmt.Fprint(w, line+"\r\n"); err != nil {
			return
		}
		flush()
	}

	if conn.Hold {
		<-r.Context().Done()
	}
}

type ruleRequest struct {
	Add    []models.FilterRule `json:"add"`
	Delete *struct {
		IDs []string `json:"ids"`
	} `json:"delete"`
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(w, r) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if s.ruleStatus != 0 {
		w.WriteHeader(s.ruleStatus)
		fmt.Fprintf(w, `{"title":"error","status":%d}`, s.ruleStatus)
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.ruleCalls = append(s.ruleCalls, "list")
		resp := map[string]interface{}{
			"meta": map[string]interface{}{"sent": time.Now().UTC().Format(time.RFC3339), "result_count": len(s.rules)},
		}
		if len(s.rules) > 0 {
			resp["data"] = s.rules
		}
		json.NewEncoder(w).Encode(resp)

	case http.MethodPost:
		var req ruleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"title":"Invalid Request","status":400}`)
			return
		}

		if req.Delete != nil {
			s.ruleCalls = append(s.ruleCalls, "delete")
			deleted := 0
			drop := make(map[string]bool, len(req.Delete.IDs))
			for _, id := range req.Delete.IDs {
				drop[id] = true
			}
			kept := s.rules[:0]
			for _, rule := range s.rules {
				if drop[rule.ID] {
					deleted++
					continue
				}
				kept = append(kept, rule)
			}
			s.rules = kept
			json.NewEncoder(w).Encode(map[string]interface{}{
				"meta": map[string]interface{}{"summary": map[string]int{"deleted": deleted, "not_deleted": len(req.Delete.IDs) - deleted}},
			})
			return
		}

		s.ruleCalls = append(s.ruleCalls, "add")
		var created []models.ActiveRule
		for _, rule := range req.Add {
			s.nextID++
			active := models.ActiveRule{ID: strconv.Itoa(s.nextID), Pattern: rule.Pattern, Tag: rule.Tag}
			s.rules = append(s.rules, active)
			created = append(created, active)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": created,
			"meta": map[string]interface{}{"summary": map[string]int{"created": len(created)}},
		})

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
