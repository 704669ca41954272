// Package web provides HTTP handlers and REST API endpoints for the
// journey automation engine.
package web

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/bloomcrm/journey/pkg/eventbus"
	"github.com/bloomcrm/journey/pkg/events"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/services"
)

type APIHandlers struct {
	workflowService   *services.Workflow
	enrollmentService *services.Enrollment
	publisher         eventbus.EventPublisher
	validator         *validator.Validate
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	enrollmentService *services.Enrollment,
	publisher eventbus.EventPublisher,
	validator *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		workflowService:   workflowService,
		enrollmentService: enrollmentService,
		publisher:         publisher,
		validator:         validator,
	}
}

// SubmitTrigger accepts one external trigger event and hands it to the
// dispatcher asynchronously. Acceptance means the event is well-formed,
// not that anything will be enrolled.
func (h *APIHandlers) SubmitTrigger(c fiber.Ctx) error {
	var event models.TriggerEvent
	if err := c.Bind().JSON(&event); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(event); err != nil {
		return badRequest(c, err.Error())
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	submitted := events.TriggerSubmitted{
		BaseEvent: events.NewBaseEvent(events.TriggerSubmittedEvent, event.TenantID, ""),
		Event:     event,
	}

	if err := h.publisher.Publish(c.Context(), event.SubjectID, submitted); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(SubmitTriggerResponse{
		EventID: event.ID,
		Status:  "accepted",
	})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req, err := h.parseListWorkflowsRequest(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	defs, err := h.workflowService.List(c.Context(), *req)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflows": defs,
		"pagination": fiber.Map{
			"limit":  req.Limit,
			"offset": req.Offset,
		},
	})
}

// parseListWorkflowsRequest parses and validates query parameters for listing workflows.
func (h *APIHandlers) parseListWorkflowsRequest(c fiber.Ctx) (*services.ListWorkflowsRequest, error) {
	req := &services.ListWorkflowsRequest{
		TenantID: c.Query("tenant_id"),
	}

	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return nil, err
		}

		req.Limit = limit
	}

	if offsetStr := c.Query("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			return nil, err
		}

		req.Offset = offset
	}

	if statusStr := c.Query("status"); statusStr != "" {
		status := models.WorkflowStatus(statusStr)
		req.Status = &status
	}

	return req, nil
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.Definition())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	def, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) GetWorkflowVersion(c fiber.Ctx) error {
	id, version, err := h.versionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.workflowService.FetchVersion(c.Context(), id, version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

// UpdateWorkflow edits the latest version of a definition. Activated
// versions are frozen and answer 409.
func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.workflowService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	req.Apply(existing)

	updated, err := h.workflowService.Update(c.Context(), id, existing)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(updated)
}

// CreateWorkflowVersion clones the latest version into a fresh draft.
func (h *APIHandlers) CreateWorkflowVersion(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	clone, err := h.workflowService.NewVersion(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(clone)
}

func (h *APIHandlers) ActivateWorkflowVersion(c fiber.Ctx) error {
	id, version, err := h.versionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.workflowService.Activate(c.Context(), id, version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

func (h *APIHandlers) DeactivateWorkflowVersion(c fiber.Ctx) error {
	id, version, err := h.versionParams(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	def, err := h.workflowService.Deactivate(c.Context(), id, version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(def)
}

// GetWorkflowAnalytics returns the counters of one version, or of the
// latest version when no version query parameter is given.
func (h *APIHandlers) GetWorkflowAnalytics(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	version := 0

	if versionStr := c.Query("version"); versionStr != "" {
		parsed, err := strconv.Atoi(versionStr)
		if err != nil {
			return badRequest(c, "Invalid version: "+versionStr)
		}

		version = parsed
	}

	if version == 0 {
		latest, err := h.workflowService.FetchByID(c.Context(), id)
		if err != nil {
			return handleServiceError(c, err)
		}

		version = latest.Version
	}

	analytics, err := h.workflowService.Analytics(c.Context(), id, version)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{
		"workflow_id": id,
		"version":     version,
		"analytics":   analytics,
	})
}

func (h *APIHandlers) GetWorkflowEnrollments(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	enrollments, err := h.enrollmentService.ListByWorkflow(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"enrollments": enrollments})
}

func (h *APIHandlers) GetEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	enrollment, err := h.enrollmentService.Get(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) ResumeEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	var req ResumeEnrollmentRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	enrollment, err := h.enrollmentService.Resume(c.Context(), id, req.ResumedBy)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) PauseEnrollment(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Enrollment ID is required")
	}

	var req PauseEnrollmentRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid JSON format")
		}
	}

	enrollment, err := h.enrollmentService.Pause(c.Context(), id, req.Reason)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(enrollment)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Journey API is unhealthy"
	httpStatus := http.StatusInternalServerError

	if repOk {
		status = "healthy"
		message = "Journey API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

func (h *APIHandlers) versionParams(c fiber.Ctx) (string, int, error) {
	id := c.Params("id")
	if id == "" {
		return "", 0, errRequiredWorkflowID
	}

	version, err := strconv.Atoi(c.Params("version"))
	if err != nil || version < 1 {
		return "", 0, errInvalidVersion
	}

	return id, version, nil
}
