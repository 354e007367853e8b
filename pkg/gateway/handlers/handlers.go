// Package handlers implements the HTTP surface of the village gateway.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/villagehq/village/pkg/core"
	"github.com/villagehq/village/pkg/gateway/apierror"
	"github.com/villagehq/village/pkg/gateway/config"
	"github.com/villagehq/village/pkg/gateway/lifecycle"
	"github.com/villagehq/village/pkg/gateway/mw"
)

// CallCounter reports live call load for readiness.
type CallCounter interface {
	ActiveCount() int
}

// ConnCounter reports WebSocket observer load for readiness.
type ConnCounter interface {
	ConnectionCount() int
}

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Calls     CallCounter
	Conns     ConnCounter
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK                  bool     `json:"ok"`
		Draining            bool     `json:"draining"`
		AuthMode            string   `json:"auth_mode"`
		AnalysisProvider    string   `json:"analysis_provider"`
		TelephonyConfigured bool     `json:"telephony_configured"`
		ArchiveEnabled      bool     `json:"archive_enabled"`
		ActiveCalls         int      `json:"active_calls"`
		Observers           int      `json:"observers"`
		Issues              []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 2)
	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeOptional, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}

	resp := readyResp{
		OK:                  len(issues) == 0 && !h.Lifecycle.IsDraining(),
		Draining:            h.Lifecycle.IsDraining(),
		AuthMode:            string(h.Config.AuthMode),
		AnalysisProvider:    h.Config.AnalysisProvider,
		TelephonyConfigured: h.Config.TelephonyConfigured(),
		ArchiveEnabled:      h.Config.DatabaseURL != "",
		Issues:              issues,
	}
	if h.Calls != nil {
		resp.ActiveCalls = h.Calls.ActiveCount()
	}
	if h.Conns != nil {
		resp.Observers = h.Conns.ConnectionCount()
	}

	status := http.StatusOK
	if !resp.OK {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	writeCoreErrorJSON(w, reqID, &core.Error{
		Type:    core.ErrNotFound,
		Message: "not found",
	}, http.StatusNotFound)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	coreErr, status := apierror.FromError(err, reqID)
	writeCoreErrorJSON(w, reqID, coreErr, status)
}

func writeCoreErrorJSON(w http.ResponseWriter, reqID string, coreErr *core.Error, status int) {
	if coreErr != nil && coreErr.RequestID == "" {
		coreErr.RequestID = reqID
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(apierror.Envelope{Error: coreErr})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return core.NewInvalidRequestError("invalid request body: " + err.Error())
	}
	return nil
}
