package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/securemail/internal/server/services"
)

const multipartMemory = 32 << 20

// parseMultipart bounds the body by maxUploadSize and parses the form.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > s.maxUploadSize {
		s.writeTooLarge(w)
		return false
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeTooLarge(w)
			return false
		}
		WriteError(w, http.StatusBadRequest, CodeValidation, "malformed multipart form")
		return false
	}
	return true
}

func (s *Server) writeTooLarge(w http.ResponseWriter) {
	WriteError(w, http.StatusRequestEntityTooLarge, CodeValidation, fmt.Sprintf("upload exceeds %d bytes", s.maxUploadSize))
}

func uploadFile(h *multipart.FileHeader) (services.UploadFile, io.Closer, error) {
	f, err := h.Open()
	if err != nil {
		return services.UploadFile{}, nil, err
	}
	return services.UploadFile{
		Filename:    h.Filename,
		ContentType: h.Header.Get("Content-Type"),
		Size:        h.Size,
		Body:        f,
	}, f, nil
}

func (s *Server) uploadAttachment(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		WriteError(w, http.StatusBadRequest, CodeValidation, "file is required")
		return
	}

	f, closer, err := uploadFile(headers[0])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer closer.Close()

	att, err := s.attachments.Upload(r.Context(), currentUser(r), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttachmentResponse(att))
}

func (s *Server) uploadAttachments(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		WriteError(w, http.StatusBadRequest, CodeValidation, "files are required")
		return
	}

	files := make([]services.UploadFile, 0, len(headers))
	for _, h := range headers {
		f, closer, err := uploadFile(h)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		defer closer.Close()
		files = append(files, f)
	}

	list, err := s.attachments.UploadMultiple(r.Context(), currentUser(r), files)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newAttachmentList(list))
}

func (s *Server) getAttachment(w http.ResponseWriter, r *http.Request) {
	att, url, err := s.attachments.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	resp := newAttachmentResponse(att)
	resp.FileURL = url
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) downloadAttachment(w http.ResponseWriter, r *http.Request) {
	att, body, err := s.attachments.Fetch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", att.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename}))
	if att.FileSize > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(att.FileSize, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, body); err != nil {
		s.logger.Warn(r.Context(), "attachment download interrupted", "attachment_id", att.ID, "error", err)
	}
}

func (s *Server) deleteAttachment(w http.ResponseWriter, r *http.Request) {
	if err := s.attachments.Delete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

