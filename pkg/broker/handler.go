// Package broker implements the service-marketplace HTTP adapter of spec
// §6: the catalog/provision/deprovision/last-operation shape of a
// service-broker protocol over the provisioning orchestrator (C7).
package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kafkaops/agent/internal/errs"
	"github.com/kafkaops/agent/internal/httpserver"
	"github.com/kafkaops/agent/pkg/model"
	"github.com/kafkaops/agent/pkg/orchestrator"
)

// provisionSyncWindow bounds how long a PUT waits to see whether its
// dispatched provision already resolved, so a fast provider (the
// container-engine default on a basic, single-broker cluster) can report
// a synchronous 201 (spec §6, §8 scenario 1) without the request thread
// ever blocking past this window.
const provisionSyncWindow = 2 * time.Second

const provisionPollInterval = 50 * time.Millisecond

// catalogPlans is the fixed set of plan identifiers the marketplace
// advertises (spec §6: basic, standard, premium).
var catalogPlans = []string{"basic", "standard", "premium"}

const serviceID = "kafka-service"

// Handler serves the service-broker HTTP surface.
type Handler struct {
	logger       *slog.Logger
	orchestrator *orchestrator.Orchestrator
}

// NewHandler creates a Handler.
func NewHandler(logger *slog.Logger, orch *orchestrator.Orchestrator) *Handler {
	return &Handler{logger: logger, orchestrator: orch}
}

// Routes returns a chi.Router with the service-broker routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/catalog", h.handleCatalog)
	r.Put("/service_instances/{id}", h.handleProvision)
	r.Delete("/service_instances/{id}", h.handleDeprovision)
	r.Get("/service_instances/{id}/last_operation", h.handleLastOperation)
	r.Patch("/service_instances/{id}", h.handleNotSupported)
	r.Put("/service_instances/{id}/service_bindings/{binding_id}", h.handleNotSupported)
	r.Delete("/service_instances/{id}/service_bindings/{binding_id}", h.handleNotSupported)
	return r
}

type catalogService struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Bindable       bool     `json:"bindable"`
	PlanUpdateable bool     `json:"plan_updateable"`
	Plans          []string `json:"plans"`
	Tags           []string `json:"tags"`
}

func (h *Handler) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"services": []catalogService{{
			ID:             serviceID,
			Name:           "kafka-service",
			Description:    "Provisioned Kafka clusters with topic administration.",
			Bindable:       true,
			PlanUpdateable: false,
			Plans:          catalogPlans,
			Tags:           []string{"kafka", "streaming", "messaging"},
		}},
	})
}

type provisionRequest struct {
	ServiceID        string         `json:"service_id"`
	PlanID           string         `json:"plan_id"`
	OrganizationGUID string         `json:"organization_guid"`
	SpaceGUID        string         `json:"space_guid"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

// handleProvision validates and dispatches a PUT provision request. The
// orchestrator always dispatches the provider call asynchronously, but
// the handler gives it a short bounded window (provisionSyncWindow) to
// resolve before responding: a provision that finishes within the window
// reports 201 (spec §6, §8 scenario 1's basic/cluster_size=1 case), one
// still in progress reports 202 with an operation token for last_operation
// polling.
func (h *Handler) handleProvision(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")

	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpserver.RespondBrokerError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "malformed request body"))
		return
	}
	if req.ServiceID != serviceID {
		httpserver.RespondBrokerError(w, http.StatusBadRequest, errs.New(errs.KindServiceNotFound, "unknown service_id"))
		return
	}
	if !validPlan(req.PlanID) {
		httpserver.RespondBrokerError(w, http.StatusBadRequest, errs.New(errs.KindPlanNotFound, "unknown plan_id"))
		return
	}
	if err := validateProvisionParams(req.Parameters); err != nil {
		httpserver.RespondBrokerError(w, http.StatusBadRequest, err)
		return
	}

	_, err := h.orchestrator.CreateInstance(r.Context(), orchestrator.CreateInstanceParams{
		InstanceID:     instanceID,
		ServiceID:      req.ServiceID,
		PlanID:         req.PlanID,
		OrganizationID: req.OrganizationGUID,
		SpaceID:        req.SpaceGUID,
		Parameters:     req.Parameters,
	})
	if err != nil {
		if errs.Is(err, errs.KindInstanceAlreadyExists) {
			httpserver.RespondBrokerError(w, http.StatusConflict, err)
			return
		}
		httpserver.RespondBrokerError(w, http.StatusBadRequest, err)
		return
	}

	if h.awaitSyncProvision(r.Context(), instanceID) {
		httpserver.Respond(w, http.StatusCreated, map[string]any{})
		return
	}

	httpserver.Respond(w, http.StatusAccepted, map[string]string{"operation": "provision"})
}

// awaitSyncProvision polls the instance's status for up to
// provisionSyncWindow, reporting true the moment it observes running
// (synchronous success) and false on error or timeout (still in
// progress, or never recovering within the window — either way the
// caller falls back to the async 202 path and last_operation polling).
func (h *Handler) awaitSyncProvision(ctx context.Context, instanceID string) bool {
	deadline := time.Now().Add(provisionSyncWindow)
	for time.Now().Before(deadline) {
		status, err := h.orchestrator.GetClusterStatus(ctx, instanceID)
		if err != nil {
			return false
		}
		switch status {
		case model.StatusRunning:
			return true
		case model.StatusError:
			return false
		}
		time.Sleep(provisionPollInterval)
	}
	return false
}

func (h *Handler) handleDeprovision(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")
	q := r.URL.Query()
	if q.Get("service_id") == "" || q.Get("plan_id") == "" {
		httpserver.RespondBrokerError(w, http.StatusBadRequest, errs.New(errs.KindValidation, "service_id and plan_id are required"))
		return
	}

	if err := h.orchestrator.DeprovisionInstance(r.Context(), instanceID); err != nil {
		if errs.Is(err, errs.KindInstanceNotFound) {
			httpserver.RespondBrokerError(w, http.StatusGone, err)
			return
		}
		httpserver.RespondBrokerError(w, http.StatusBadRequest, err)
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{})
}

func (h *Handler) handleLastOperation(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "id")

	status, err := h.orchestrator.GetClusterStatus(r.Context(), instanceID)
	if err != nil {
		if errs.Is(err, errs.KindInstanceNotFound) {
			httpserver.RespondBrokerError(w, http.StatusGone, err)
			return
		}
		httpserver.RespondBrokerError(w, http.StatusBadRequest, err)
		return
	}

	state, ok := lastOperationState(status)
	if !ok {
		httpserver.RespondBrokerError(w, http.StatusGone, errs.New(errs.KindInstanceNotFound, "instance not found"))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"state": state})
}

// lastOperationState maps an instance status onto the broker protocol's
// last_operation.state (spec §6): creating/stopping -> in progress,
// running -> succeeded, error -> failed. stopped/pending have no defined
// mapping and are treated as gone.
func lastOperationState(status model.InstanceStatus) (string, bool) {
	switch status {
	case model.StatusCreating, model.StatusStopping:
		return "in progress", true
	case model.StatusRunning:
		return "succeeded", true
	case model.StatusError:
		return "failed", true
	default:
		return "", false
	}
}

func (h *Handler) handleNotSupported(w http.ResponseWriter, _ *http.Request) {
	httpserver.RespondBrokerError(w, http.StatusUnprocessableEntity, errs.New(errs.KindBindingNotSupported, "operation not supported"))
}

func validPlan(planID string) bool {
	for _, p := range catalogPlans {
		if p == planID {
			return true
		}
	}
	return false
}

// validateProvisionParams enforces spec §6's PUT parameter validation:
// cluster_size 1..10, replication_factor positive, retention_hours
// positive. Absent parameters are fine — the orchestrator fills in the
// plan baseline.
func validateProvisionParams(params map[string]any) error {
	if params == nil {
		return nil
	}
	if v, ok := intParam(params, "cluster_size"); ok && (v < 1 || v > 10) {
		return errs.New(errs.KindValidation, "cluster_size must be between 1 and 10")
	}
	if v, ok := intParam(params, "replication_factor"); ok && v < 1 {
		return errs.New(errs.KindValidation, "replication_factor must be positive")
	}
	if v, ok := intParam(params, "retention_hours"); ok && v < 1 {
		return errs.New(errs.KindValidation, "retention_hours must be positive")
	}
	return nil
}

func intParam(params map[string]any, key string) (int, bool) {
	v, ok := params[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
