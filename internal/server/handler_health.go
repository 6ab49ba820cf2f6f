package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string         `json:"status"`
	Version   string         `json:"version"`
	GoVersion string         `json:"go_version"`
	Uptime    string         `json:"uptime"`
	Store     string         `json:"store"`
	Scheduler *schedulerInfo `json:"scheduler,omitempty"`
}

type schedulerInfo struct {
	Name     string   `json:"name"`
	Interval string   `json:"interval"`
	Inflight int      `json:"inflight"`
	Handlers []string `json:"handlers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     s.config.Store,
	}
	if s.scheduler != nil {
		resp.Scheduler = &schedulerInfo{
			Name:     s.scheduler.Name(),
			Interval: s.scheduler.Environment().Interval.String(),
			Inflight: s.scheduler.Inflight(),
			Handlers: s.scheduler.Registry().Names(),
		}
	}
	respondOK(w, reqID, resp)
}
