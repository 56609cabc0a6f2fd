package upload

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/driftchat/api/model"
	"github.com/driftchat/api/services"
	"github.com/driftchat/api/services/blobstore"
	"github.com/driftchat/api/utils/middleware"
	"github.com/driftchat/api/utils/response"
	"github.com/driftchat/api/utils/validation"
)

// presignTTL bounds how long upload and download links stay valid
const presignTTL = 15 * time.Minute

// UploadHandler hands out presigned blob URLs and removes orphaned uploads
type UploadHandler struct {
	validator   *validation.Validator
	blobs       blobstore.Store
	attachments *services.AttachmentService
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(blobs blobstore.Store, attachments *services.AttachmentService) *UploadHandler {
	return &UploadHandler{
		validator:   validation.NewValidator(),
		blobs:       blobs,
		attachments: attachments,
	}
}

// PresignRequest represents the request for an upload URL
type PresignRequest struct {
	FileName string `json:"file_name" validate:"required,max=255"`
	FileType string `json:"file_type" validate:"required,max=100"`
	FileSize int64  `json:"file_size" validate:"required,gt=0"`
}

// Presign handles POST /api/v1/uploads. The returned blob id is what a send
// request references once the browser finishes the PUT.
func (h *UploadHandler) Presign(c *fiber.Ctx) error {
	if _, ok := middleware.GetUserID(c); !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	var req PresignRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}
	if err := h.attachments.Validate([]model.Attachment{{
		FileName: req.FileName,
		FileType: req.FileType,
		FileSize: req.FileSize,
	}}); err != nil {
		return response.FromError(c, err)
	}

	blobID := uuid.NewString()
	url, err := h.blobs.PresignUpload(blobID, presignTTL)
	if err != nil {
		return response.InternalServerError(c, "Failed to create upload URL")
	}
	return response.Created(c, fiber.Map{
		"blob_id":    blobID,
		"upload_url": url,
		"expires_in": int(presignTTL.Seconds()),
	})
}

// Download handles GET /api/v1/uploads/:id, returning a short-lived link
func (h *UploadHandler) Download(c *fiber.Ctx) error {
	if _, ok := middleware.GetUserID(c); !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	url, err := h.blobs.PresignDownload(c.Params("id"), presignTTL)
	if err != nil {
		return response.InternalServerError(c, "Failed to create download URL")
	}
	return response.Success(c, fiber.Map{
		"download_url": url,
		"expires_in":   int(presignTTL.Seconds()),
	})
}

// Remove handles DELETE /api/v1/uploads/:id for files the client abandoned
// before sending
func (h *UploadHandler) Remove(c *fiber.Ctx) error {
	if _, ok := middleware.GetUserID(c); !ok {
		return response.Unauthorized(c, "User not authenticated")
	}

	if err := h.blobs.Delete(c.Context(), c.Params("id")); err != nil {
		return response.InternalServerError(c, "Failed to delete file")
	}
	return response.NoContent(c)
}
