package http

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/dmitrijs2005/mediarelay/internal/common"
	"github.com/dmitrijs2005/mediarelay/internal/filex"
	"github.com/dmitrijs2005/mediarelay/internal/server/artifacts"
	"github.com/dmitrijs2005/mediarelay/internal/server/models"
	"github.com/dmitrijs2005/mediarelay/internal/server/uploads"
	"github.com/gin-gonic/gin"
)

// multipartOverhead leaves room for the form fields and part headers on
// top of the file limit.
const multipartOverhead = 1 << 20

func (s *HTTPServer) upload(kind models.UploadKind, field string, limit int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		userID := c.GetString(userIDKey)

		if limit > 0 {
			if c.Request.ContentLength > limit+multipartOverhead {
				tooLarge(c, limit)
				return
			}
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)
		}

		fh, err := c.FormFile(field)
		if err != nil {
			var mbe *http.MaxBytesError
			if errors.As(err, &mbe) {
				tooLarge(c, limit)
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
			return
		}
		if limit > 0 && fh.Size > limit {
			tooLarge(c, limit)
			return
		}

		conversationID := c.PostForm("conversation_id")
		token := c.PostForm("client_message_id")
		for _, seg := range []struct{ field, value string }{
			{"conversation_id", conversationID},
			{"client_message_id", token},
		} {
			if err := artifacts.ValidateSegment(seg.field, seg.value); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		path, err := s.layout.IncomingPath(kind, conversationID, userID, fh.Filename)
		if err != nil {
			s.logger.Error(ctx, "naming upload failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
			return
		}

		src, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
			return
		}
		n, err := filex.Save(src, path)
		_ = src.Close()
		if err != nil {
			s.logger.Error(ctx, "saving upload failed", "path", path, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store upload"})
			return
		}

		res, err := s.uploads.HandleUpload(ctx, uploads.Request{
			Kind:           kind,
			Token:          token,
			ConversationID: conversationID,
			UserID:         userID,
			File: models.RawDescriptor{
				Path:         path,
				MimeType:     fh.Header.Get("Content-Type"),
				Size:         n,
				OriginalName: fh.Filename,
				Filename:     filepath.Base(path),
			},
		})
		if err != nil {
			status, msg := uploadError(err)
			if status >= http.StatusInternalServerError {
				s.logger.Error(ctx, "upload failed", "kind", string(kind), "error", err)
			}
			c.JSON(status, gin.H{"error": msg})
			return
		}

		c.JSON(http.StatusOK, res)
	}
}

func tooLarge(c *gin.Context, limit int64) {
	c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("File too large, limit is %d bytes", limit)})
}

func uploadError(err error) (int, string) {
	switch {
	case errors.Is(err, common.ErrorValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, common.ErrorUnauthorized):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, common.ErrInProgress):
		return http.StatusConflict, "Upload already in progress"
	case errors.Is(err, common.ErrNoSafeArtifact):
		return http.StatusInternalServerError, "Failed to store upload"
	case errors.Is(err, common.ErrTransform):
		return http.StatusInternalServerError, "Failed to process upload"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}
