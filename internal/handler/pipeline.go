package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/service"
	"github.com/dse120071750/anime-dance-publisher/pkg/response"
)

type PipelineHandler struct {
	service   *service.PipelineService
	validator *validator.Validate
}

func NewPipelineHandler(svc *service.PipelineService, v *validator.Validate) *PipelineHandler {
	return &PipelineHandler{
		service:   svc,
		validator: v,
	}
}

// Run handles POST /api/pipeline/run
func (h *PipelineHandler) Run(c *fiber.Ctx) error {
	var req model.RunRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.Run(c.Context(), &req)
	if err != nil {
		if errors.Is(err, service.ErrCountOutOfRange) {
			return response.ValidationError(c, err.Error(), nil)
		}
		return response.ServiceError(c, err.Error())
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/pipeline/status/:jobId
func (h *PipelineHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.GetJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, job)
}

// List handles GET /api/pipeline/jobs
func (h *PipelineHandler) List(c *fiber.Ctx) error {
	status := model.JobStatus(c.Query("status"))
	switch status {
	case "", model.JobStatusQueued, model.JobStatusRunning, model.JobStatusCompleted,
		model.JobStatusFailed, model.JobStatusCancelled:
	default:
		return response.ValidationError(c, "Unknown status filter", nil)
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return response.ValidationError(c, "Invalid limit", nil)
		}
		limit = n
	}

	jobs, err := h.service.ListJobs(c.Context(), status, limit)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.JobListResponse{Jobs: jobs, Count: len(jobs)})
}

// Cancel handles POST /api/pipeline/cancel/:jobId
func (h *PipelineHandler) Cancel(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.service.CancelJob(c.Context(), jobID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		if errors.Is(err, service.ErrJobTerminal) {
			return response.JobTerminal(c, "Job already finished")
		}
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.CancelResponse{
		Success: true,
		JobID:   job.JobID,
		Status:  job.Status,
	})
}

// Characters handles GET /api/pipeline/characters
func (h *PipelineHandler) Characters(c *fiber.Ctx) error {
	chars, err := h.service.ListCharacters(c.Context())
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, model.CharacterListResponse{Characters: chars, Count: len(chars)})
}

func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[e.Field()] = e.Tag()
		}
		return errors
	}
	return nil
}
