package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-engine/internal/response"
	"github.com/stemsi/exstem-engine/internal/service"
)

// ImageHandler accepts question images for use as imageUrl in imports.
type ImageHandler struct {
	images *service.ImageService
	log    zerolog.Logger
}

func NewImageHandler(images *service.ImageService, log zerolog.Logger) *ImageHandler {
	return &ImageHandler{
		images: images,
		log:    log.With().Str("component", "image_handler").Logger(),
	}
}

// UploadImage godoc
// POST /api/v1/admin/images
// Stores a multipart "file" image and returns its URL.
func (h *ImageHandler) UploadImage(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrFileRequired)
		return
	}
	defer file.Close()

	url, created, err := h.images.Save(file)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnsupportedFileType):
			response.Fail(c, http.StatusBadRequest, response.ErrUnsupportedFile)
		case errors.Is(err, service.ErrFileTooLarge):
			response.Fail(c, http.StatusRequestEntityTooLarge, response.ErrFileTooLarge)
		default:
			h.log.Error().Err(err).Msg("Upload image error")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	response.Success(c, status, gin.H{"url": url})
}
