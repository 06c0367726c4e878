package server

import "net/http"

// Handler returns the full route table. Everything under /api/ passes
// through CORS and bearer auth; /healthz stays open so probes and shell
// scripts work without credentials.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.corsMiddleware(s.handleHealthz))

	mux.HandleFunc("/api/status", s.guard(s.handleStatus))       // Daemon, budget, identity (GET)
	mux.HandleFunc("/api/usage", s.guard(s.handleUsage))         // Spend aggregates (GET)
	mux.HandleFunc("/api/jobs", s.guard(s.handleJobs))           // List/enqueue jobs (GET/POST)
	mux.HandleFunc("/api/jobs/", s.guard(s.handleJob))           // Job detail and cancel/retry/resume (GET/POST)
	mux.HandleFunc("/api/schedules", s.guard(s.handleSchedules)) // List schedules (GET)
	mux.HandleFunc("/api/schedules/", s.guard(s.handleSchedule)) // Schedule detail and pause/resume (GET/POST)
	mux.HandleFunc("/api/events", s.guard(s.handleEvents))       // Job update feed (WebSocket)

	return mux
}

// guard stacks the middleware every /api/ route carries. CORS runs first so
// preflight requests answer before auth: browsers do not attach credentials
// to OPTIONS.
func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return s.corsMiddleware(s.authMiddleware(next))
}

// corsMiddleware reflects allowed origins and answers preflight requests.
// Origin validation matches the WebSocket upgrader.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
