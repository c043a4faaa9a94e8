package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdnguyen/sentryhub/internal/model"
	"github.com/tdnguyen/sentryhub/internal/pipeline"
	"github.com/tdnguyen/sentryhub/internal/signature"
	"github.com/tdnguyen/sentryhub/internal/store"
)

const maxBodySize = 1024 * 1024 // 1MB

// Handlers exposes the HTTP boundary over the pipeline and store.
type Handlers struct {
	pipeline *pipeline.Pipeline
	store    store.Store
	logger   *zap.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(p *pipeline.Pipeline, st store.Store, logger *zap.Logger) *Handlers {
	return &Handlers{pipeline: p, store: st, logger: logger}
}

// ingestResponse is the 201 body for accepted events.
type ingestResponse struct {
	OK         bool    `json:"ok"`
	RiskLevel  string  `json:"risk_level"`
	IncidentID *string `json:"incident_id"`
	EventID    int64   `json:"event_id"`
}

// handleIngest accepts one signed device event. The body is read before
// decoding so the signature is checked against the exact bytes sent.
func (h *Handlers) handleIngest(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "error reading body")
		return
	}

	var req pipeline.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	res, err := h.pipeline.Ingest(r.Context(), raw, r.Header.Get(signature.Header), req)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	resp := ingestResponse{
		OK:        true,
		RiskLevel: string(res.RiskLevel),
		EventID:   res.EventID,
	}
	if res.IncidentID != "" {
		resp.IncidentID = &res.IncidentID
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) writeIngestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, pipeline.ErrUnknownDevice):
		writeError(w, http.StatusBadRequest, "unknown device_id")
	case errors.Is(err, pipeline.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "device_id and event_type are required")
	default:
		h.logger.Error("ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// deviceCreateRequest registers a new device.
type deviceCreateRequest struct {
	OwnerID  string         `json:"owner_id,omitempty"`
	Name     string         `json:"name,omitempty"`
	Type     string         `json:"type,omitempty"`
	Serial   string         `json:"serial,omitempty"`
	Location map[string]any `json:"location,omitempty"`
}

func (h *Handlers) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req deviceCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}

	d := &model.Device{
		ID:        uuid.NewString(),
		OwnerID:   req.OwnerID,
		Name:      req.Name,
		Type:      req.Type,
		Serial:    req.Serial,
		Location:  req.Location,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.CreateDevice(r.Context(), d); err != nil {
		if errors.Is(err, store.ErrDuplicateSerial) {
			writeError(w, http.StatusConflict, "serial_already_exists")
			return
		}
		h.logger.Error("device registration failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID, "serial": d.Serial})
}

func (h *Handlers) handleListDevices(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	devices, err := h.store.ListDevices(r.Context(), store.DeviceFilter{
		OwnerID: r.URL.Query().Get("owner_id"),
		Serial:  r.URL.Query().Get("serial"),
		Limit:   limit,
	})
	if err != nil {
		h.logger.Error("device listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if devices == nil {
		devices = []*model.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (h *Handlers) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := h.store.GetDevice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Error("device lookup failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// incidentStatusRequest transitions an incident's lifecycle status.
type incidentStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handlers) handleIncidentStatus(w http.ResponseWriter, r *http.Request) {
	var req incidentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if !model.ValidIncidentStatus(req.Status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	inc, err := h.store.SetIncidentStatus(r.Context(), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		h.logger.Error("incident status update failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": inc.ID, "status": inc.Status})
}

func (h *Handlers) handleIncidentsByDevice(w http.ResponseWriter, r *http.Request) {
	incs, err := h.store.IncidentsByDevice(r.Context(), chi.URLParam(r, "deviceID"), 50)
	if err != nil {
		h.logger.Error("incident listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if incs == nil {
		incs = []*model.Incident{}
	}
	writeJSON(w, http.StatusOK, incs)
}

func (h *Handlers) handleAlertsByIncident(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.store.AlertsByIncident(r.Context(), chi.URLParam(r, "incidentID"))
	if err != nil {
		h.logger.Error("alert listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if alerts == nil {
		alerts = []*model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
