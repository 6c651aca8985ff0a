package server

import (
	"net/http"

	"github.com/Tyrowin/roomchat/internal/admission"
)

// Routes configures and returns an HTTP ServeMux with all application routes.
// WebSocket upgrades pass through admission control first.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.HealthHandler)
	mux.HandleFunc("GET /healthz", s.HealthzHandler)
	mux.HandleFunc("GET /test", s.TestPageHandler)
	mux.HandleFunc("GET /stats", s.StatsHandler)

	ws := admission.Middleware(s.hub.admission, s.identify, http.HandlerFunc(s.WebSocketHandler))
	mux.Handle("GET /ws", ws)
	mux.Handle("GET /ws/{user_id}", ws)

	mux.HandleFunc("GET /admin/admission", s.AdmissionStatsHandler)
	mux.HandleFunc("GET /admin/admission/users/{id}", s.AdmissionUserHandler)
	mux.HandleFunc("POST /admin/admission/users/{id}/unblock", s.UnblockUserHandler)
	mux.HandleFunc("POST /admin/admission/ips/{ip}/unblock", s.UnblockIPHandler)
	mux.HandleFunc("DELETE /admin/connections/{id}", s.DisconnectHandler)
	return mux
}
