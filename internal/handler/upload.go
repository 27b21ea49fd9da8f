package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/motionforge/api/internal/middleware"
	"github.com/motionforge/api/internal/service"
	"github.com/motionforge/api/pkg/response"
)

const maxBundleSize = 200 * 1024 * 1024 // 200MB

type UploadHandler struct {
	service   *service.UploadService
	validator *validator.Validate
}

func NewUploadHandler(svc *service.UploadService, v *validator.Validate) *UploadHandler {
	return &UploadHandler{
		service:   svc,
		validator: v,
	}
}

// Bundle handles POST /api/upload/bundle
// @Summary      Upload project bundle
// @Description  Upload a packaged project bundle (zip); the returned key is the render inputKey
// @Tags         Upload
// @Accept       multipart/form-data
// @Produce      json
// @Param        file formData file true "Project bundle (zip; max 200MB)"
// @Success      201 {object} model.UploadBundleResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/bundle [post]
func (h *UploadHandler) Bundle(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	if file.Size > maxBundleSize {
		return response.ValidationError(c, "File exceeds maximum size", nil)
	}

	src, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to read uploaded file")
	}
	defer src.Close()

	result, err := h.service.UploadBundle(c.Context(), middleware.GetUserID(c), src, file.Size)
	if err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.Created(c, result)
}

// Delete handles DELETE /api/upload/bundle
// @Summary      Delete uploaded bundle
// @Description  Remove an uploaded project bundle from storage
// @Tags         Upload
// @Produce      json
// @Param        key query string true "Bundle storage key"
// @Success      204
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/upload/bundle [delete]
func (h *UploadHandler) Delete(c *fiber.Ctx) error {
	key := c.Query("key")
	if key == "" {
		return response.ValidationError(c, "Bundle key is required", nil)
	}

	if err := h.service.DeleteBundle(c.Context(), key); err != nil {
		return response.ServiceError(c, err.Error())
	}

	return response.NoContent(c)
}
