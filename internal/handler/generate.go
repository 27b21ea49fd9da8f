package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/motionforge/api/internal/client"
	"github.com/motionforge/api/internal/middleware"
	"github.com/motionforge/api/internal/model"
	"github.com/motionforge/api/internal/service"
	"github.com/motionforge/api/pkg/response"
)

type GenerateHandler struct {
	runner    client.TaskRunner
	credits   *service.CreditService
	validator *validator.Validate
}

func NewGenerateHandler(runner client.TaskRunner, credits *service.CreditService, v *validator.Validate) *GenerateHandler {
	return &GenerateHandler{
		runner:    runner,
		credits:   credits,
		validator: v,
	}
}

// Generate handles POST /api/generate
// @Summary      Generate AI media
// @Description  Run an AI media generation call through the provider's task queue
// @Tags         Generate
// @Accept       json
// @Produce      json
// @Param        request body model.GenerateRequest true "Generation request"
// @Success      200 {object} model.GenerateResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      402 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Failure      504 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate [post]
func (h *GenerateHandler) Generate(c *fiber.Ctx) error {
	var req model.GenerateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	userID := middleware.GetUserID(c)

	// Credit is taken at submission. A task that later times out or fails
	// has still consumed it.
	if err := h.credits.DebitForTask(c.Context(), userID); err != nil {
		if errors.Is(err, service.ErrInsufficientCredits) {
			return response.PaymentRequired(c, "Not enough credits")
		}
		return response.ServiceError(c, err.Error())
	}

	payload, err := h.runner.RunTask(c.Context(), req.Model, req.Input)
	if err != nil {
		var rejected *client.RequestRejectedError
		if errors.As(err, &rejected) {
			return response.ValidationError(c, rejected.Error(), nil)
		}
		var timedOut *client.TaskTimeoutError
		if errors.As(err, &timedOut) {
			return response.Timeout(c, timedOut.Error())
		}
		return response.ProviderError(c, err.Error())
	}

	resp := &model.GenerateResponse{Payload: payload}
	if url, ok := client.ExtractMediaURL(payload); ok {
		resp.MediaURL = url
	}

	return response.OK(c, resp)
}

// Balance handles GET /api/generate/credits
// @Summary      Get credit balance
// @Description  Get the caller's remaining generation credits
// @Tags         Generate
// @Produce      json
// @Success      200 {object} map[string]int64
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/generate/credits [get]
func (h *GenerateHandler) Balance(c *fiber.Ctx) error {
	balance, err := h.credits.Balance(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.OK(c, fiber.Map{"credits": balance})
}
