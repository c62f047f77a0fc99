package server

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nOOne-is-hier/AgentFlow/internal/artifact"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

const maxUploadBytes = 32 << 20

var allowedUploadExts = map[string]bool{
	".pdf":  true,
	".txt":  true,
	".csv":  true,
	".xlsx": true,
}

var ErrUploadType = errors.New("unsupported upload type")

// uploadFile stores a multipart upload in the blob bucket and records
// it in the file index
func (s *Server) uploadFile(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	ext := strings.ToLower(path.Ext(header.Filename))
	if !allowedUploadExts[ext] {
		errResponse(c, http.StatusBadRequest,
			fmt.Errorf("%w: %s", ErrUploadType, ext))
		return
	}
	if header.Size > maxUploadBytes {
		errResponse(c, http.StatusRequestEntityTooLarge,
			fmt.Errorf("upload exceeds %d bytes", maxUploadBytes))
		return
	}

	f, err := header.Open()
	if err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	if len(data) > maxUploadBytes {
		errResponse(c, http.StatusRequestEntityTooLarge,
			fmt.Errorf("upload exceeds %d bytes", maxUploadBytes))
		return
	}

	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	id := uuid.NewString() + ext
	ctx := c.Request.Context()
	if err := s.artifacts.SaveUpload(ctx, id, data, contentType); err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}

	info := &api.FileInfo{
		ID:         id,
		Name:       path.Base(header.Filename),
		Type:       contentType,
		Key:        "uploads/" + id,
		Size:       int64(len(data)),
		UploadedAt: time.Now().UTC(),
	}
	if err := s.workflows.AddFile(ctx, info); err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusCreated, info)
}

func (s *Server) listFiles(c *gin.Context) {
	files, err := s.workflows.Files(c.Request.Context())
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, api.FilesResponse{
		Files: files,
	})
}

// downloadArtifact serves the exported spreadsheet under its display
// filename
func (s *Server) downloadArtifact(c *gin.Context) {
	id := api.ArtifactID(c.Param("artifactID"))
	data, meta, err := s.artifacts.LoadArtifact(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, artifact.ErrArtifactNotFound) {
			status = http.StatusNotFound
		}
		errResponse(c, status, err)
		return
	}
	c.Header("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{
			"filename": meta.DisplayName,
		}))
	c.Data(http.StatusOK, meta.ContentType, data)
}
