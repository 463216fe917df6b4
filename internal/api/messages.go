package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/pkg/models"
)

// MessageView is a stored message without its raw HTML body
type MessageView struct {
	ID             int64     `json:"id"`
	Sender         string    `json:"sender"`
	Subject        string    `json:"subject"`
	ReceivedAt     time.Time `json:"received_at"`
	Folder         string    `json:"folder"`
	BodyText       string    `json:"body_text,omitempty"`
	HasAttachments bool      `json:"has_attachments"`
}

// MessagesResponse is one page of an account's stored messages, newest first
type MessagesResponse struct {
	AccountID int64         `json:"account_id"`
	Total     int           `json:"total"`
	Messages  []MessageView `json:"messages"`
}

// AttachmentView describes an attachment without its content
type AttachmentView struct {
	ID          int64  `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := s.accountID(w, r)
	if !ok {
		return
	}

	limit := defaultMessageLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxMessageLimit)
	}

	if !s.accountExists(w, r, id) {
		return
	}

	msgs, err := s.store.ListMessages(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list messages", "account_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	total, err := s.store.CountMessages(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to count messages", "account_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to count messages")
		return
	}

	resp := MessagesResponse{AccountID: id, Total: total, Messages: make([]MessageView, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, MessageView{
			ID:             m.ID,
			Sender:         m.Sender,
			Subject:        m.Subject,
			ReceivedAt:     m.ReceivedAt,
			Folder:         m.Folder,
			BodyText:       m.BodyText,
			HasAttachments: m.HasAttachments,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAttachments(w http.ResponseWriter, r *http.Request) {
	atts, ok := s.messageAttachments(w, r)
	if !ok {
		return
	}

	views := make([]AttachmentView, 0, len(atts))
	for _, a := range atts {
		views = append(views, AttachmentView{
			ID:          a.ID,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			SizeBytes:   a.SizeBytes,
		})
	}
	s.writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAttachment(w http.ResponseWriter, r *http.Request) {
	atts, ok := s.messageAttachments(w, r)
	if !ok {
		return
	}

	aid, err := strconv.ParseInt(mux.Vars(r)["aid"], 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid attachment id")
		return
	}

	for _, a := range atts {
		if a.ID != aid {
			continue
		}
		contentType := a.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(a.Filename))
		w.Header().Set("Content-Length", strconv.Itoa(len(a.Content)))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(a.Content)
		return
	}
	s.writeError(w, http.StatusNotFound, "attachment not found")
}

// messageAttachments loads the attachments of the message named in the path,
// answering 404 when the message does not belong to the account
func (s *Server) messageAttachments(w http.ResponseWriter, r *http.Request) ([]models.Attachment, bool) {
	id, ok := s.accountID(w, r)
	if !ok {
		return nil, false
	}
	mid, err := strconv.ParseInt(mux.Vars(r)["mid"], 10, 64)
	if err != nil || mid <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid message id")
		return nil, false
	}

	if _, err := s.store.GetMessage(r.Context(), id, mid); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "message not found")
			return nil, false
		}
		s.logger.Error("failed to load message", "account_id", id, "message_id", mid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load message")
		return nil, false
	}

	atts, err := s.store.GetAttachments(r.Context(), mid)
	if err != nil {
		s.logger.Error("failed to load attachments", "message_id", mid, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load attachments")
		return nil, false
	}
	return atts, true
}
