package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Black-prog/CanScan/internal/auth"
	"github.com/Black-prog/CanScan/internal/classifier"
	"github.com/Black-prog/CanScan/internal/imagestore"
	"github.com/Black-prog/CanScan/internal/preprocess"
	"github.com/Black-prog/CanScan/internal/repository"
	"github.com/Black-prog/CanScan/internal/usecase"
)

// MaxUploadSize caps uploaded image payloads.
const MaxUploadSize = 10 << 20

// DefaultRecentLimit matches the original recent-histories view.
const DefaultRecentLimit = 4

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.AnalysisUseCase, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authorized := router.Group("")
	authorized.Use(authMiddleware)

	authorized.POST("/analyses", func(c *gin.Context) {
		ownerID, ok := auth.GetOwnerID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner identity missing"})
			return
		}

		firstName := c.PostForm("patient_first_name")
		lastName := c.PostForm("patient_last_name")
		if firstName == "" || lastName == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "patient_first_name and patient_last_name are required"})
			return
		}

		filename, data, ok := readUpload(c)
		if !ok {
			return
		}

		record, err := uc.RunAnalysis(c.Request.Context(), ownerID, firstName, lastName, filename, data)
		if err != nil {
			writePipelineError(c, err)
			return
		}

		c.JSON(http.StatusCreated, recordJSON(record))
	})

	authorized.POST("/preview", func(c *gin.Context) {
		filename, data, ok := readUpload(c)
		if !ok {
			return
		}

		label, image, err := uc.RunPreview(c.Request.Context(), filename, data)
		if err != nil {
			writePipelineError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"diagnosis": label, "image": image})
	})

	authorized.GET("/records", func(c *gin.Context) {
		ownerID, ok := auth.GetOwnerID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner identity missing"})
			return
		}

		limit := DefaultRecentLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}

		records, err := uc.ListRecent(c.Request.Context(), ownerID, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recordsJSON(records)})
	})

	authorized.GET("/search", func(c *gin.Context) {
		ownerID, ok := auth.GetOwnerID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner identity missing"})
			return
		}

		records, err := uc.SearchRecords(c.Request.Context(), ownerID, c.Query("q"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"records": recordsJSON(records)})
	})

	authorized.GET("/summary", func(c *gin.Context) {
		ownerID, ok := auth.GetOwnerID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner identity missing"})
			return
		}

		summary, err := uc.GetDiagnosisSummary(c.Request.Context(), ownerID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	authorized.GET("/records/:id", func(c *gin.Context) {
		ownerID, id, ok := recordRequest(c)
		if !ok {
			return
		}

		record, err := uc.GetRecord(c.Request.Context(), ownerID, id)
		if err != nil {
			writeLookupError(c, err)
			return
		}
		c.JSON(http.StatusOK, recordJSON(record))
	})

	authorized.GET("/records/:id/report", func(c *gin.Context) {
		ownerID, id, ok := recordRequest(c)
		if !ok {
			return
		}

		document, filename, err := uc.DownloadReport(c.Request.Context(), ownerID, id)
		if err != nil {
			writeLookupError(c, err)
			return
		}

		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Data(http.StatusOK, "application/pdf", document)
	})

	authorized.DELETE("/records", func(c *gin.Context) {
		ownerID, ok := auth.GetOwnerID(c.Request.Context())
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "owner identity missing"})
			return
		}

		if err := uc.DeleteOwnerData(c.Request.Context(), ownerID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func readUpload(c *gin.Context) (string, []byte, bool) {
	if c.Request.ContentLength > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return "", nil, false
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return "", nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
		return "", nil, false
	}
	if !imagestore.AllowedExtension(file.Filename) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image format"})
		return "", nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return "", nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return "", nil, false
	}
	return file.Filename, data, true
}

func recordRequest(c *gin.Context) (string, uint, bool) {
	ownerID, ok := auth.GetOwnerID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "owner identity missing"})
		return "", 0, false
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid record id"})
		return "", 0, false
	}
	return ownerID, uint(id), true
}

func writePipelineError(c *gin.Context, err error) {
	var inferenceErr *classifier.InferenceError
	switch {
	case errors.Is(err, imagestore.ErrEmptyUpload):
		c.JSON(http.StatusBadRequest, gin.H{"error": "no image was provided"})
	case errors.Is(err, imagestore.ErrUnsupportedFormat):
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported image format"})
	case errors.Is(err, preprocess.ErrUnreadable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "image could not be decoded"})
	case errors.As(err, &inferenceErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": "classification failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
	}
}

func writeLookupError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "record not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal failure"})
}

func recordJSON(record *repository.CaseRecord) gin.H {
	return gin.H{
		"id":           record.ID,
		"owner_id":     record.OwnerID,
		"patient_name": record.PatientName,
		"analyzed_at":  record.AnalyzedAt,
		"diagnosis":    record.Diagnosis,
		"image":        record.ImagePath,
	}
}

func recordsJSON(records []*repository.CaseRecord) []gin.H {
	out := make([]gin.H, 0, len(records))
	for _, record := range records {
		out = append(out, recordJSON(record))
	}
	return out
}
