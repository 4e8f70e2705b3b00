package handler

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/dse120071750/anime-dance-publisher/internal/model"
	"github.com/dse120071750/anime-dance-publisher/internal/registry"
	"github.com/dse120071750/anime-dance-publisher/internal/service"
	"github.com/dse120071750/anime-dance-publisher/pkg/response"
)

type PublishHandler struct {
	service   *service.PublishService
	validator *validator.Validate
}

func NewPublishHandler(svc *service.PublishService, v *validator.Validate) *PublishHandler {
	return &PublishHandler{
		service:   svc,
		validator: v,
	}
}

// Instagram handles POST /api/publish/instagram
func (h *PublishHandler) Instagram(c *fiber.Ctx) error {
	var req model.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.PublishInstagram(c.Context(), &req)
	if err != nil {
		return h.publishError(c, err)
	}

	return response.OK(c, result)
}

// TikTok handles POST /api/publish/tiktok
func (h *PublishHandler) TikTok(c *fiber.Ctx) error {
	var req model.PublishRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	result, err := h.service.PublishTikTok(c.Context(), &req)
	if err != nil {
		return h.publishError(c, err)
	}

	return response.OK(c, result)
}

func (h *PublishHandler) publishError(c *fiber.Ctx, err error) error {
	var ambiguous *registry.AmbiguousError
	if errors.As(err, &ambiguous) {
		return response.ValidationError(c,
			fmt.Sprintf("Character query %q matches multiple records", ambiguous.Query),
			map[string]interface{}{"matches": ambiguous.Matches})
	}
	if errors.Is(err, registry.ErrNotFound) {
		return response.NotFound(c, "Character not found")
	}
	if errors.Is(err, service.ErrNoDeliverable) {
		return response.ValidationError(c, "Character has no published deliverable", nil)
	}
	return response.VendorError(c, err.Error())
}
