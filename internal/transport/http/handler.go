package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"progress-stream-service/internal/entity"
	"progress-stream-service/internal/service"
)

type Handler struct {
	registry *service.Registry
}

func NewHandler(registry *service.Registry) *Handler {
	return &Handler{registry: registry}
}

type createJobDTO struct {
	Pipeline   string `json:"pipeline"`
	TotalCount *int   `json:"totalCount,omitempty"` // nil for streaming producers with unknown size
}

type createJobResp struct {
	JobID     string `json:"jobId"`
	AuthToken string `json:"authToken"`
}

type progressDTO struct {
	ProcessedCount int    `json:"processedCount"`
	CurrentItem    string `json:"currentItem,omitempty"`
	UserMessage    string `json:"userMessage,omitempty"`
}

type completeDTO struct {
	SuccessCount int             `json:"successCount"`
	FailureCount int             `json:"failureCount"`
	Result       json.RawMessage `json:"result,omitempty"`
}

type failDTO struct {
	Code        string `json:"code,omitempty"`
	Message     string `json:"message"`
	UserMessage string `json:"userMessage,omitempty"`
	Retryable   *bool  `json:"retryable,omitempty"`
}

type jobResp struct {
	JobID          string           `json:"jobId"`
	Pipeline       entity.Pipeline  `json:"pipeline"`
	Status         entity.JobStatus `json:"status"`
	TotalCount     *int             `json:"totalCount,omitempty"`
	ProcessedCount int              `json:"processedCount"`
	CurrentItem    string           `json:"currentItem,omitempty"`
	StartedAt      string           `json:"startedAt"`
	UpdatedAt      string           `json:"updatedAt"`
	Result         json.RawMessage  `json:"result,omitempty"`
	Error          *entity.JobError `json:"error,omitempty"`
}

// CreateJob godoc
// @Summary Create a job
// @Description Allocates a coordinator, persists the initial state and returns the job's auth token (returned exactly once).
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body createJobDTO true "job parameters"
// @Success 201 {object} createJobResp
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var dto createJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "", "invalid json")
		return
	}

	pipeline, ok := entity.ParsePipeline(dto.Pipeline)
	if !ok {
		writeErr(w, http.StatusBadRequest, "", "unknown pipeline")
		return
	}
	if dto.TotalCount != nil && *dto.TotalCount < 0 {
		writeErr(w, http.StatusBadRequest, "", "totalCount must be >= 0")
		return
	}

	jobID, token, err := h.registry.CreateJob(r.Context(), pipeline, dto.TotalCount)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "", "create job failed")
		return
	}

	writeJSON(w, http.StatusCreated, createJobResp{JobID: jobID, AuthToken: token})
}

// authorized resolves the coordinator and checks the producer token. The 404
// vs 401 split is fine on this surface: producers hold the token they were
// handed at creation. Only the streaming gateway needs the
// indistinguishable-close behavior.
func (h *Handler) authorized(w http.ResponseWriter, r *http.Request) (*service.Coordinator, bool) {
	co, ok := h.registry.Lookup(r.Context(), chi.URLParam(r, "id"))
	if !ok {
		writeErr(w, http.StatusNotFound, entity.CodeJobNotFound, "job not found")
		return nil, false
	}
	if !co.Authorize(r.Header.Get("X-Job-Token")) {
		writeErr(w, http.StatusUnauthorized, entity.CodeAuthFailed, "invalid token")
		return nil, false
	}
	return co, true
}

// ReportProgress godoc
// @Summary Report job progress
// @Tags jobs
// @Accept json
// @Param id path string true "job id"
// @Param X-Job-Token header string true "job auth token"
// @Param request body progressDTO true "progress update"
// @Success 204
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/progress [post]
func (h *Handler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	co, ok := h.authorized(w, r)
	if !ok {
		return
	}

	var dto progressDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "", "invalid json")
		return
	}

	if err := co.ReportProgress(r.Context(), dto.ProcessedCount, dto.CurrentItem, dto.UserMessage); err != nil {
		writeErr(w, http.StatusInternalServerError, "", "progress update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CompleteJob godoc
// @Summary Complete a job
// @Tags jobs
// @Accept json
// @Param id path string true "job id"
// @Param X-Job-Token header string true "job auth token"
// @Param request body completeDTO true "final result"
// @Success 204
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/complete [post]
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	co, ok := h.authorized(w, r)
	if !ok {
		return
	}

	var dto completeDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "", "invalid json")
		return
	}

	if err := co.Complete(r.Context(), dto.SuccessCount, dto.FailureCount, dto.Result); err != nil {
		writeErr(w, http.StatusInternalServerError, "", "complete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// FailJob godoc
// @Summary Fail a job
// @Tags jobs
// @Accept json
// @Param id path string true "job id"
// @Param X-Job-Token header string true "job auth token"
// @Param request body failDTO true "failure details"
// @Success 204
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/fail [post]
func (h *Handler) FailJob(w http.ResponseWriter, r *http.Request) {
	co, ok := h.authorized(w, r)
	if !ok {
		return
	}

	var dto failDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "", "invalid json")
		return
	}

	jobErr := entity.JobError{
		Code:        dto.Code,
		Message:     dto.Message,
		UserMessage: dto.UserMessage,
		Retryable:   dto.Retryable == nil || *dto.Retryable,
	}
	if err := co.Fail(r.Context(), jobErr); err != nil {
		writeErr(w, http.StatusInternalServerError, "", "fail transition failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CancelJob godoc
// @Summary Cancel a job
// @Description Terminal but not an error: the subscriber receives a job_complete reflecting work done so far.
// @Tags jobs
// @Param id path string true "job id"
// @Param X-Job-Token header string true "job auth token"
// @Success 204
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id}/cancel [post]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	co, ok := h.authorized(w, r)
	if !ok {
		return
	}

	if err := co.Cancel(r.Context()); err != nil {
		writeErr(w, http.StatusInternalServerError, "", "cancel failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetJob godoc
// @Summary Get job state
// @Tags jobs
// @Produce json
// @Param id path string true "job id"
// @Param X-Job-Token header string true "job auth token"
// @Success 200 {object} jobResp
// @Failure 401 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	co, ok := h.authorized(w, r)
	if !ok {
		return
	}

	st := co.State()
	writeJSON(w, http.StatusOK, jobResp{
		JobID:          st.JobID,
		Pipeline:       st.Pipeline,
		Status:         st.Status,
		TotalCount:     st.TotalCount,
		ProcessedCount: st.ProcessedCount,
		CurrentItem:    st.CurrentItem,
		StartedAt:      st.StartTime.Format(time.RFC3339),
		UpdatedAt:      st.LastUpdateTime.Format(time.RFC3339),
		Result:         st.Result,
		Error:          st.Error,
	})
}
