package handlers

import (
	"encoding/json"
	"net/http"
)

type healthResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// HealthHandler is the liveness probe. It answers 200 for as long as the
// process can serve HTTP, draining or not.
type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResp{Status: "OK", Message: "Server is running"})
}

type ReadyHandler struct {
	Draining func() bool
	// Sessions reports the number of open chat connections.
	Sessions func() int
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK       bool   `json:"ok"`
		Draining bool   `json:"draining"`
		Sessions int    `json:"sessions"`
		Issue    string `json:"issue,omitempty"`
	}

	resp := readyResp{OK: true}
	if h.Sessions != nil {
		resp.Sessions = h.Sessions()
	}
	status := http.StatusOK
	if h.Draining != nil && h.Draining() {
		resp.OK = false
		resp.Draining = true
		resp.Issue = "gateway is draining"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
