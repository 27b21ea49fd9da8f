package handler

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/motionforge/api/internal/auth"
	"github.com/motionforge/api/internal/model"
	"github.com/motionforge/api/internal/service"
	"github.com/motionforge/api/pkg/response"
)

// signatureHeader carries the payment processor's payload signature
const signatureHeader = "X-Webhook-Signature"

type BillingHandler struct {
	credits   *service.CreditService
	verifier  auth.WebhookVerifier
	validator *validator.Validate
}

func NewBillingHandler(credits *service.CreditService, verifier auth.WebhookVerifier, v *validator.Validate) *BillingHandler {
	return &BillingHandler{
		credits:   credits,
		verifier:  verifier,
		validator: v,
	}
}

// Webhook handles POST /api/billing/webhook
// @Summary      Payment completion webhook
// @Description  Apply a payment-completion event to the credit ledger, at most once per session
// @Tags         Billing
// @Accept       json
// @Produce      json
// @Param        request body model.PaymentEvent true "Payment event"
// @Success      200 {object} map[string]bool
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Router       /api/billing/webhook [post]
func (h *BillingHandler) Webhook(c *fiber.Ctx) error {
	body := c.Body()

	if h.verifier != nil {
		if err := h.verifier.Verify(body, c.Get(signatureHeader)); err != nil {
			return response.Unauthorized(c, "Invalid webhook signature")
		}
	}

	var event model.PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return response.ValidationError(c, "Invalid event body", nil)
	}

	if err := h.validator.Struct(&event); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	applied, err := h.credits.ApplyPayment(c.Context(), &event)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	// Duplicate deliveries are acknowledged so the processor stops retrying.
	return response.OK(c, fiber.Map{"applied": applied})
}
