package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrijs2005/securemail/internal/server/models"
	"github.com/dmitrijs2005/securemail/internal/server/services"
)

// sendMessageRequest accepts the body under content or, as older clients
// send it, content_encrypted.
type sendMessageRequest struct {
	ToUserID         string                  `json:"to_user_id"`
	Subject          string                  `json:"subject"`
	Content          string                  `json:"content"`
	ContentEncrypted string                  `json:"content_encrypted"`
	IsEncrypted      bool                    `json:"is_encrypted"`
	IsDraft          bool                    `json:"is_draft"`
	AttachmentsMeta  []models.AttachmentMeta `json:"attachments_meta"`
}

func (req sendMessageRequest) toService() services.SendRequest {
	body := req.Content
	if body == "" {
		body = req.ContentEncrypted
	}
	return services.SendRequest{
		ToUserID:        req.ToUserID,
		Subject:         req.Subject,
		Body:            body,
		IsEncrypted:     req.IsEncrypted,
		IsDraft:         req.IsDraft,
		AttachmentsMeta: req.AttachmentsMeta,
	}
}

type decryptRequest struct {
	Passphrase string `json:"passphrase"`
}

type linkAttachmentsRequest struct {
	AttachmentIDs []string `json:"attachment_ids"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	msg, err := s.mail.Send(r.Context(), currentUser(r), req.toService())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageDetail(msg))
}

func (s *Server) updateDraft(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	msg, err := s.mail.UpdateDraft(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.toService())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageDetail(msg))
}

func (s *Server) listFolder(folder models.Folder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.mail.ListFolder(r.Context(), currentUser(r), folder)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		items := make([]messageListItem, 0, len(list))
		for _, m := range list {
			items = append(items, newMessageListItem(m))
		}
		writeJSON(w, http.StatusOK, items)
	}
}

func (s *Server) getMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.mail.Get(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageDetail(msg))
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if _, err := s.mail.SoftDelete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) restoreMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.mail.Restore(r.Context(), currentUser(r), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newMessageDetail(msg))
}

func (s *Server) permanentDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.mail.PermanentDelete(r.Context(), currentUser(r), chi.URLParam(r, "id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decryptMessage(w http.ResponseWriter, r *http.Request) {
	var req decryptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	content, err := s.mail.Decrypt(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.Passphrase)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decryptResponse{Content: content})
}

func (s *Server) linkAttachments(w http.ResponseWriter, r *http.Request) {
	var req linkAttachmentsRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	n, err := s.attachments.Link(r.Context(), currentUser(r), chi.URLParam(r, "id"), req.AttachmentIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, linkResponse{Linked: n})
}

func (s *Server) unlinkAttachment(w http.ResponseWriter, r *http.Request) {
	err := s.attachments.Unlink(r.Context(), currentUser(r), chi.URLParam(r, "id"), chi.URLParam(r, "attachmentID"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
