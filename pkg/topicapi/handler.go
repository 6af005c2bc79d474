// Package topicapi implements the topic-management HTTP adapter of spec
// §6: namespace `/api/v1/clusters/{cluster_id}` over the topic management
// service (C6).
package topicapi

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kafkaops/agent/internal/errs"
	"github.com/kafkaops/agent/internal/httpserver"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/topic"
)

const minClusterIDLen = 2

// Handler serves the topic-management HTTP surface.
type Handler struct {
	logger  *slog.Logger
	service *topic.Service
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, service *topic.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// Routes returns a chi.Router mounted under /clusters/{cluster_id}, plus
// the top-level /health liveness probe registered by the caller separately
// (spec §6 lists /api/v1/health outside the cluster namespace).
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/clusters/{cluster_id}", func(cr chi.Router) {
		cr.Use(h.requireClusterID)
		cr.Post("/topics", h.handleCreateTopic)
		cr.Get("/topics", h.handleListTopics)
		cr.Get("/topics/{name}", h.handleDescribeTopic)
		cr.Put("/topics/{name}/config", h.handleUpdateConfig)
		cr.Delete("/topics/{name}", h.handleDeleteTopic)
		cr.Post("/topics/{name}/purge", h.handlePurgeTopic)
		cr.Post("/topics/bulk", h.handleBulk)
		cr.Get("/info", h.handleClusterInfo)
	})
	return r
}

func (h *Handler) requireClusterID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(chi.URLParam(r, "cluster_id")) < minClusterIDLen {
			httpserver.RespondTopicAPIError(w, errs.New(errs.KindValidation, "cluster_id must be at least 2 characters"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func userID(r *http.Request) string {
	return httpserver.UserIDFromContext(r.Context())
}

func (h *Handler) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")

	var spec model.TopicSpec
	if err := httpserver.Decode(r, &spec); err != nil {
		httpserver.RespondTopicAPIError(w, errs.New(errs.KindValidation, err.Error()))
		return
	}

	result, err := h.service.CreateTopic(r.Context(), clusterID, spec, userID(r))
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, map[string]any{"success": true, "result": result})
}

func (h *Handler) handleListTopics(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")
	includeInternal, _ := strconv.ParseBool(r.URL.Query().Get("include_internal"))

	names, err := h.service.ListTopics(r.Context(), clusterID, includeInternal, userID(r))
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"topics": names, "count": len(names)})
}

func (h *Handler) handleDescribeTopic(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")
	name := chi.URLParam(r, "name")

	desc, err := h.service.DescribeTopic(r.Context(), clusterID, name, userID(r))
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, desc)
}

type updateConfigRequest struct {
	Configs map[string]string `json:"configs"`
}

func (h *Handler) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")
	name := chi.URLParam(r, "name")

	var req updateConfigRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondTopicAPIError(w, errs.New(errs.KindValidation, err.Error()))
		return
	}

	result, err := h.service.UpdateTopicConfig(r.Context(), clusterID, name, req.Configs, userID(r))
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

func (h *Handler) handleDeleteTopic(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")
	name := chi.URLParam(r, "name")

	result, err := h.service.DeleteTopic(r.Context(), clusterID, name, userID(r))
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

type purgeRequest struct {
	RetentionMs int64 `json:"retention_ms"`
}

func (h *Handler) handlePurgeTopic(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")
	name := chi.URLParam(r, "name")

	var req purgeRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondTopicAPIError(w, errs.New(errs.KindValidation, err.Error()))
		return
	}

	result, err := h.service.PurgeTopic(r.Context(), clusterID, name, req.RetentionMs, userID(r))
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"success": true, "result": result})
}

type bulkRequest struct {
	Operation   string            `json:"operation"`
	Topics      []model.TopicSpec `json:"topics,omitempty"`
	TopicNames  []string          `json:"topic_names,omitempty"`
}

func (h *Handler) handleBulk(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")

	var req bulkRequest
	if err := httpserver.Decode(r, &req); err != nil {
		httpserver.RespondTopicAPIError(w, errs.New(errs.KindValidation, err.Error()))
		return
	}

	switch req.Operation {
	case "create":
		results, err := h.service.BulkCreateTopics(r.Context(), clusterID, req.Topics, userID(r))
		if err != nil {
			httpserver.RespondTopicAPIError(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"success": true, "results": results})
	case "delete":
		results, err := h.service.BulkDeleteTopics(r.Context(), clusterID, req.TopicNames, userID(r))
		if err != nil {
			httpserver.RespondTopicAPIError(w, err)
			return
		}
		httpserver.Respond(w, http.StatusOK, map[string]any{"success": true, "results": results})
	default:
		httpserver.RespondTopicAPIError(w, errs.New(errs.KindValidation, "operation must be create or delete"))
	}
}

func (h *Handler) handleClusterInfo(w http.ResponseWriter, r *http.Request) {
	clusterID := chi.URLParam(r, "cluster_id")

	info, err := h.service.GetClusterInfo(r.Context(), clusterID)
	if err != nil {
		httpserver.RespondTopicAPIError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, info)
}

// HealthHandler registers the top-level liveness probe.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
