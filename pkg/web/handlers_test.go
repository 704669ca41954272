package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bloomcrm/journey/pkg/cache"
	"github.com/bloomcrm/journey/pkg/mocks"
	"github.com/bloomcrm/journey/pkg/models"
	"github.com/bloomcrm/journey/pkg/persistence/file"
	"github.com/bloomcrm/journey/pkg/services"
	"github.com/bloomcrm/journey/pkg/web"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence, *mocks.MockEventBus) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())

	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	workflowService := services.NewWorkflow(store, cache.NewMemoryCache(store.Workflows(), time.Minute))
	enrollmentService := services.NewEnrollment(testLogger(), store, bus)

	handlers := web.NewAPIHandlers(
		workflowService,
		enrollmentService,
		bus,
		validator.New(validator.WithRequiredStructEnabled()),
	)

	app := fiber.New()

	v1 := app.Group("/v1")
	v1.Post("/triggers", handlers.SubmitTrigger)

	w := v1.Group("/workflows")
	w.Get("/", handlers.GetWorkflows)
	w.Post("/", handlers.CreateWorkflow)
	w.Get("/:id", handlers.GetWorkflow)
	w.Patch("/:id", handlers.UpdateWorkflow)
	w.Post("/:id/versions", handlers.CreateWorkflowVersion)
	w.Get("/:id/versions/:version", handlers.GetWorkflowVersion)
	w.Post("/:id/versions/:version/activate", handlers.ActivateWorkflowVersion)
	w.Post("/:id/versions/:version/deactivate", handlers.DeactivateWorkflowVersion)
	w.Get("/:id/analytics", handlers.GetWorkflowAnalytics)
	w.Get("/:id/enrollments", handlers.GetWorkflowEnrollments)

	e := v1.Group("/enrollments")
	e.Get("/:id", handlers.GetEnrollment)
	e.Post("/:id/resume", handlers.ResumeEnrollment)
	e.Post("/:id/pause", handlers.PauseEnrollment)

	app.Get("/health", handlers.HealthCheck)

	return app, store, bus
}

func jsonRequest(t *testing.T, method, target string, payload any) *http.Request {
	t.Helper()

	var body []byte

	if str, ok := payload.(string); ok {
		body = []byte(str)
	} else if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}

	req := httptest.NewRequest(method, target, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	return req
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var out T
	require.NoError(t, json.Unmarshal(body, &out))

	return out
}

func createRequest() web.CreateWorkflowRequest {
	return web.CreateWorkflowRequest{
		TenantID:    "tenant-1",
		Name:        "Cart recovery",
		Description: "Recover abandoned carts",
		Trigger:     models.Trigger{Type: models.TriggerCartAbandoned},
		Stages: []*models.Stage{
			{ID: "s0", Order: 0, Actions: []models.ActionSpec{
				{Action: &models.SendMessage{Channel: "email", Template: "cart-reminder"}},
			}},
		},
	}
}

func TestAPIHandlers_CreateWorkflow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name:           "successful creation",
			requestBody:    createRequest(),
			expectedStatus: http.StatusCreated,
		},
		{
			name: "validation error - missing tenant",
			requestBody: func() web.CreateWorkflowRequest {
				r := createRequest()
				r.TenantID = ""

				return r
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - name too short",
			requestBody: func() web.CreateWorkflowRequest {
				r := createRequest()
				r.Name = "Ca"

				return r
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "validation error - missing trigger type",
			requestBody: func() web.CreateWorkflowRequest {
				r := createRequest()
				r.Trigger = models.Trigger{}

				return r
			}(),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "invalid-json",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _, _ := setupTestApp(t)

			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows", tt.requestBody))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusCreated {
				created := decodeBody[models.WorkflowDefinition](t, resp)
				assert.NotEmpty(t, created.ID)
				assert.Equal(t, 1, created.Version)
				assert.Equal(t, models.WorkflowStatusDraft, created.Status)
			}
		})
	}
}

func TestAPIHandlers_WorkflowVersionLifecycle(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows", createRequest()))
	require.NoError(t, err)
	created := decodeBody[models.WorkflowDefinition](t, resp)
	_ = resp.Body.Close()

	// Activate version 1.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows/"+created.ID+"/versions/1/activate", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	activated := decodeBody[models.WorkflowDefinition](t, resp)
	assert.Equal(t, models.WorkflowStatusActive, activated.Status)
	_ = resp.Body.Close()

	// An activated version is frozen.
	update := web.UpdateWorkflowRequest{Name: stringPtr("Cart recovery reworked")}
	resp, err = app.Test(jsonRequest(t, http.MethodPatch, "/v1/workflows/"+created.ID, update))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	// Clone into a new draft and edit that instead.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows/"+created.ID+"/versions", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	clone := decodeBody[models.WorkflowDefinition](t, resp)
	assert.Equal(t, 2, clone.Version)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodPatch, "/v1/workflows/"+created.ID, update))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// The pinned first version is unchanged.
	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/"+created.ID+"/versions/1", nil))
	require.NoError(t, err)
	pinned := decodeBody[models.WorkflowDefinition](t, resp)
	assert.Equal(t, "Cart recovery", pinned.Name)
	_ = resp.Body.Close()

	// Deactivating a draft answers 409.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows/"+created.ID+"/versions/2/deactivate", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_GetWorkflowNotFound(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/missing", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_SubmitTrigger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		expectedStatus int
	}{
		{
			name: "accepted",
			requestBody: models.TriggerEvent{
				Type:      models.TriggerCartAbandoned,
				TenantID:  "tenant-1",
				SubjectID: "subj-1",
				Payload:   map[string]any{"cart_id": "c-1"},
			},
			expectedStatus: http.StatusAccepted,
		},
		{
			name: "missing subject",
			requestBody: models.TriggerEvent{
				Type:     models.TriggerCartAbandoned,
				TenantID: "tenant-1",
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "invalid JSON",
			requestBody:    "{",
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			app, _, bus := setupTestApp(t)

			resp, err := app.Test(jsonRequest(t, http.MethodPost, "/v1/triggers", tt.requestBody))
			require.NoError(t, err)

			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.expectedStatus, resp.StatusCode)

			if tt.expectedStatus == http.StatusAccepted {
				ack := decodeBody[web.SubmitTriggerResponse](t, resp)
				assert.NotEmpty(t, ack.EventID)
				assert.Equal(t, "accepted", ack.Status)
				bus.AssertCalled(t, "Publish", mock.Anything, "subj-1", mock.Anything)
			}
		})
	}
}

func TestAPIHandlers_GetWorkflowAnalytics(t *testing.T) {
	t.Parallel()

	app, store, _ := setupTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows", createRequest()))
	require.NoError(t, err)
	created := decodeBody[models.WorkflowDefinition](t, resp)
	_ = resp.Body.Close()

	require.NoError(t, store.Workflows().IncrementAnalytics(
		t.Context(), created.ID, 1, models.AnalyticsDelta{Triggered: 10, Completed: 4, Revenue: 99.5},
	))

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/"+created.ID+"/analytics", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	payload := decodeBody[struct {
		WorkflowID string                   `json:"workflow_id"`
		Version    int                      `json:"version"`
		Analytics  models.WorkflowAnalytics `json:"analytics"`
	}](t, resp)

	assert.Equal(t, created.ID, payload.WorkflowID)
	assert.Equal(t, 1, payload.Version)
	assert.Equal(t, int64(10), payload.Analytics.Triggered)
	assert.InDelta(t, 0.4, payload.Analytics.ConversionRate, 0.001)
}

func TestAPIHandlers_EnrollmentEndpoints(t *testing.T) {
	t.Parallel()

	app, store, _ := setupTestApp(t)

	now := time.Now().UTC()
	enrollment := &models.Enrollment{
		ID:              "enr-1",
		TenantID:        "tenant-1",
		SubjectID:       "subj-1",
		WorkflowID:      "wf-1",
		WorkflowVersion: 1,
		CurrentStage:    1,
		Status:          models.EnrollmentStatusPaused,
		PauseReason:     "too many skips",
		DueAt:           now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	require.NoError(t, store.Enrollments().Create(t.Context(), enrollment))

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/v1/enrollments/enr-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	fetched := decodeBody[models.Enrollment](t, resp)
	assert.Equal(t, models.EnrollmentStatusPaused, fetched.Status)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/v1/enrollments/enr-1/resume",
		web.ResumeEnrollmentRequest{ResumedBy: "ops@acme.test"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resumed := decodeBody[models.Enrollment](t, resp)
	assert.Equal(t, models.EnrollmentStatusActive, resumed.Status)
	assert.Empty(t, resumed.PauseReason)
	_ = resp.Body.Close()

	// Resuming an active enrollment conflicts.
	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/v1/enrollments/enr-1/resume", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodPost, "/v1/enrollments/enr-1/pause",
		web.PauseEnrollmentRequest{Reason: "campaign review"}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	paused := decodeBody[models.Enrollment](t, resp)
	assert.Equal(t, "campaign review", paused.PauseReason)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/wf-1/enrollments", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[struct {
		Enrollments []*models.Enrollment `json:"enrollments"`
	}](t, resp)
	assert.Len(t, listed.Enrollments, 1)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/enrollments/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_ListWorkflowsFilters(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodPost, "/v1/workflows", createRequest()))
	require.NoError(t, err)
	created := decodeBody[models.WorkflowDefinition](t, resp)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/?tenant_id=tenant-1&status=draft", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	listed := decodeBody[struct {
		Workflows []*models.WorkflowDefinition `json:"workflows"`
	}](t, resp)
	require.Len(t, listed.Workflows, 1)
	assert.Equal(t, created.ID, listed.Workflows[0].ID)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/?status=published", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()

	resp, err = app.Test(jsonRequest(t, http.MethodGet, "/v1/workflows/?limit=banana", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	app, _, _ := setupTestApp(t)

	resp, err := app.Test(jsonRequest(t, http.MethodGet, "/health", nil))
	require.NoError(t, err)

	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func stringPtr(s string) *string {
	return &s
}
