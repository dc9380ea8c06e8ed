package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sorinflow/divar-crawler/internal/delivery/http/request"
	"github.com/sorinflow/divar-crawler/internal/delivery/http/response"
	"github.com/sorinflow/divar-crawler/internal/entity"
	"github.com/sorinflow/divar-crawler/internal/repository"
	"github.com/sorinflow/divar-crawler/internal/usecase"
)

const defaultJobListLimit = 50

type Handler struct {
	orchestrator *usecase.Orchestrator
	sessions     *usecase.SessionManager
	proxies      *usecase.ProxyPool
}

func NewHandler(orchestrator *usecase.Orchestrator, sessions *usecase.SessionManager, proxies *usecase.ProxyPool) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		sessions:     sessions,
		proxies:      proxies,
	}
}

func (h *Handler) HandleStartJob(w http.ResponseWriter, r *http.Request) {
	var req request.StartJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	scope := entity.JobScope{City: req.City, Category: req.Category}
	jobID, err := h.orchestrator.StartJob(r.Context(), scope, req.MaxPages, usecase.StartOptions{
		DownloadImages: req.DownloadImages,
	})
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrInvalidScope):
			h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, usecase.ErrScopeBusy):
			h.writeJSONError(w, err.Error(), http.StatusConflict)
		default:
			slog.Error("Failed to start job", "scope", scope.String(), "error", err)
			h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusAccepted, response.StartJobResponse{
		Status:  "success",
		Message: "Scraping job started",
		JobID:   jobID,
	})
}

func (h *Handler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			h.writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Failed to get job", "job_id", r.PathValue("id"), "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.NewJobResponse(job))
}

func (h *Handler) HandleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := defaultJobListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			h.writeJSONError(w, "Invalid limit query parameter", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	jobs, err := h.orchestrator.ListJobs(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list jobs", "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resp := response.JobListResponse{Jobs: make([]response.JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, response.NewJobResponse(job))
	}
	resp.Total = len(resp.Jobs)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if err := h.orchestrator.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, usecase.ErrJobNotFound) {
			h.writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Failed to cancel job", "job_id", jobID, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Cancellation requested"})
}

func (h *Handler) HandleListCities(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, entity.Cities)
}

func (h *Handler) HandleListCategories(w http.ResponseWriter, r *http.Request) {
	categories := make(map[string]map[string]string, len(entity.Categories))
	for slug, info := range entity.Categories {
		categories[slug] = map[string]string{"name": info.Name, "type": info.Type}
	}
	h.writeJSON(w, http.StatusOK, categories)
}

func (h *Handler) HandleRequestOtp(w http.ResponseWriter, r *http.Request) {
	var req request.RequestOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" {
		h.writeJSONError(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.RequestOtp(r.Context(), req.PhoneNumber); err != nil {
		if errors.Is(err, usecase.ErrRateLimited) {
			h.writeJSONError(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		slog.Error("Failed to request verification code", "phone", req.PhoneNumber, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, response.AuthResponse{
		Status:      "success",
		Message:     "Verification code sent",
		PhoneNumber: req.PhoneNumber,
		State:       string(h.sessions.State(req.PhoneNumber)),
	})
}

func (h *Handler) HandleVerifyOtp(w http.ResponseWriter, r *http.Request) {
	var req request.VerifyOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" || req.Code == "" {
		h.writeJSONError(w, "phone_number and code are required", http.StatusBadRequest)
		return
	}

	if _, err := h.sessions.VerifyOtp(r.Context(), req.PhoneNumber, req.Code); err != nil {
		switch {
		case errors.Is(err, usecase.ErrNoPendingOtp):
			h.writeJSONError(w, err.Error(), http.StatusNotFound)
		case errors.Is(err, usecase.ErrCodeExpired):
			h.writeJSONError(w, err.Error(), http.StatusGone)
		case errors.Is(err, repository.ErrOtpCodeInvalid):
			h.writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			slog.Error("Failed to verify code", "phone", req.PhoneNumber, "error", err)
			h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, response.AuthResponse{
		Status:      "success",
		Message:     "Login successful",
		PhoneNumber: req.PhoneNumber,
		State:       string(h.sessions.State(req.PhoneNumber)),
	})
}

func (h *Handler) HandleAuthStatus(w http.ResponseWriter, r *http.Request) {
	statuses := h.sessions.Status()
	resp := make([]response.SessionStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		resp = append(resp, response.NewSessionStatusResponse(s))
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleRefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.RefreshSession(r.Context()); err != nil {
		switch {
		case errors.Is(err, usecase.ErrNoValidSession):
			h.writeJSONError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, repository.ErrSessionRejected):
			h.writeJSONError(w, "Session rejected by source, login again", http.StatusUnauthorized)
		default:
			slog.Error("Failed to refresh session", "error", err)
			h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Session still valid"})
}

func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req request.RequestOtpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PhoneNumber == "" {
		h.writeJSONError(w, "phone_number is required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.Logout(r.Context(), req.PhoneNumber); err != nil {
		slog.Error("Failed to log out", "phone", req.PhoneNumber, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "Logged out"})
}

func (h *Handler) HandleListProxies(w http.ResponseWriter, r *http.Request) {
	records := h.proxies.List()
	resp := response.ProxyListResponse{Proxies: make([]response.ProxyResponse, 0, len(records))}
	for _, p := range records {
		resp.Proxies = append(resp.Proxies, response.NewProxyResponse(p))
	}
	resp.Total = len(resp.Proxies)
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) HandleAddProxy(w http.ResponseWriter, r *http.Request) {
	var req request.AddProxyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Address == "" || req.Port < 1 || req.Port > 65535 {
		h.writeJSONError(w, "address and a valid port are required", http.StatusBadRequest)
		return
	}
	if req.Protocol == "" {
		req.Protocol = "http"
	}

	rec := &entity.ProxyRecord{
		Address:  req.Address,
		Port:     req.Port,
		Protocol: req.Protocol,
		Username: req.Username,
		Password: req.Password,
		IsActive: true,
	}
	if err := h.proxies.Add(r.Context(), rec); err != nil {
		slog.Error("Failed to add proxy", "address", req.Address, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusCreated, response.NewProxyResponse(rec))
}

func (h *Handler) HandleImportProxies(w http.ResponseWriter, r *http.Request) {
	var req request.ImportProxiesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProxyList == "" {
		h.writeJSONError(w, "proxy_list is required", http.StatusBadRequest)
		return
	}

	imported, skipped, err := h.proxies.ImportList(r.Context(), req.ProxyList)
	if err != nil {
		slog.Error("Failed to import proxies", "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, response.ProxyImportResponse{
		Imported: imported,
		Skipped:  skipped,
		Message:  fmt.Sprintf("Imported %d proxies, skipped %d", imported, skipped),
	})
}

func (h *Handler) HandleTestProxy(w http.ResponseWriter, r *http.Request) {
	proxyID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSONError(w, "Invalid proxy id", http.StatusBadRequest)
		return
	}

	latency, err := h.proxies.Test(r.Context(), proxyID)
	if err != nil {
		if errors.Is(err, usecase.ErrProxyNotFound) {
			h.writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.writeJSON(w, http.StatusOK, response.ProxyTestResponse{
			ID:      proxyID,
			Working: false,
			Message: err.Error(),
		})
		return
	}
	h.writeJSON(w, http.StatusOK, response.ProxyTestResponse{
		ID:         proxyID,
		Working:    true,
		ResponseMS: float64(latency.Milliseconds()),
	})
}

func (h *Handler) HandleSetProxyActive(w http.ResponseWriter, r *http.Request) {
	proxyID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeJSONError(w, "Invalid proxy id", http.StatusBadRequest)
		return
	}

	var req request.SetProxyActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.proxies.SetActive(r.Context(), proxyID, req.Active); err != nil {
		if errors.Is(err, usecase.ErrProxyNotFound) {
			h.writeJSONError(w, err.Error(), http.StatusNotFound)
			return
		}
		slog.Error("Failed to update proxy", "proxy_id", proxyID, "error", err)
		h.writeJSONError(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeJSONError(w http.ResponseWriter, message string, status int) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
