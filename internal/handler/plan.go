package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/segyhp/installment-engine/internal/domain"
	"github.com/segyhp/installment-engine/internal/service"
	customError "github.com/segyhp/installment-engine/pkg/errors"
	"github.com/segyhp/installment-engine/pkg/response"
)

type PlanHandler struct {
	plans     *service.PlanService
	validator *validator.Validate
	logger    logrus.FieldLogger
}

func NewPlanHandler(plans *service.PlanService, logger logrus.FieldLogger) *PlanHandler {
	return &PlanHandler{
		plans:     plans,
		validator: validator.New(),
		logger:    logger,
	}
}

// RegisterRoutes mounts the plan and eligibility endpoints. The router is
// expected to run AuthMiddleware. limited wraps endpoints that move money.
func (h *PlanHandler) RegisterRoutes(router *mux.Router, limited mux.MiddlewareFunc) {
	router.Handle("/installment-plans", limited(http.HandlerFunc(h.CreatePlan))).Methods("POST")
	router.HandleFunc("/installment-plans", h.ListPlans).Methods("GET")
	router.HandleFunc("/installment-plans/{planId}", h.GetPlan).Methods("GET")
	router.Handle("/installment-plans/{planId}/cancel", limited(http.HandlerFunc(h.CancelPlan))).Methods("POST")
	router.HandleFunc("/dues/{duesId}/eligibility", h.SetEligibility).Methods("PUT")
}

// CreatePlan handles POST /installment-plans
func (h *PlanHandler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req domain.CreateInstallmentPlanRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.plans.CreatePlan(r.Context(), identity, req)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	response.Success(w, result)
}

// GetPlan handles GET /installment-plans/{planId}
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	planID, ok := h.pathUUID(w, r, "planId")
	if !ok {
		return
	}

	details, err := h.plans.GetPlan(r.Context(), identity, planID)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	response.Success(w, details)
}

// CancelPlan handles POST /installment-plans/{planId}/cancel
func (h *PlanHandler) CancelPlan(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	planID, ok := h.pathUUID(w, r, "planId")
	if !ok {
		return
	}

	plan, err := h.plans.CancelPlan(r.Context(), identity, planID)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	response.Success(w, plan)
}

// ListPlans handles GET /installment-plans?needs_attention=true
func (h *PlanHandler) ListPlans(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}

	if r.URL.Query().Get("needs_attention") != "true" {
		response.FromError(w, h.logger, customError.WrapValidation("only needs_attention=true listings are supported", nil))
		return
	}

	plans, err := h.plans.ListPlansNeedingAttention(r.Context(), identity)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	response.Success(w, plans)
}

// SetEligibility handles PUT /dues/{duesId}/eligibility
func (h *PlanHandler) SetEligibility(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.identity(w, r)
	if !ok {
		return
	}
	duesID, ok := h.pathUUID(w, r, "duesId")
	if !ok {
		return
	}

	var req domain.SetEligibilityRequest
	if !h.decode(w, r, &req) {
		return
	}

	eligibility, err := h.plans.SetEligibility(r.Context(), identity, duesID, req)
	if err != nil {
		response.FromError(w, h.logger, err)
		return
	}

	response.Success(w, eligibility)
}

func (h *PlanHandler) identity(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	identity, ok := IdentityFrom(r.Context())
	if !ok {
		response.FromError(w, h.logger, customError.WrapUnauthenticated(nil))
	}
	return identity, ok
}

func (h *PlanHandler) pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		response.FromError(w, h.logger, customError.WrapValidation(name+" must be a valid UUID", err))
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into dst and runs struct validation on it.
func (h *PlanHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		response.FromError(w, h.logger, customError.WrapValidation("invalid request body", err))
		return false
	}

	if err := h.validator.Struct(dst); err != nil {
		response.FromError(w, h.logger, customError.WrapValidation(validationMessage(err), err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	fieldErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fmt.Sprintf("%s failed on '%s'", fe.Field(), fe.Tag()))
	}
	return strings.Join(messages, "; ")
}
