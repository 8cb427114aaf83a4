package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/kitchenprint/internal/archive"
)

type ArchiveHandler struct {
	archiver *archive.Archiver
}

func NewArchiveHandler(archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver}
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	files, err := h.archiver.ListArchives()
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to list archives"})
		return
	}
	if files == nil {
		files = []*archive.File{}
	}
	c.JSON(http.StatusOK, gin.H{"archives": files})
}

// RunArchive archives eligible jobs now instead of waiting for the next scheduled run.
func (h *ArchiveHandler) RunArchive(c *gin.Context) {
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "archive run failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"archived": n})
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchives)
	r.POST("/archives/run", h.RunArchive)
}
