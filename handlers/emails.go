package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/pkg/errors"

	"github.com/HierarchThurs/Argus/internal/store"
)

const defaultPageSize = 50

type emailListItem struct {
	ID             uint      `json:"id"`
	MessageID      uint      `json:"message_id"`
	FolderID       uint      `json:"folder_id"`
	UID            uint32    `json:"uid"`
	Subject        string    `json:"subject"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderAddress  string    `json:"sender_address"`
	Snippet        string    `json:"snippet"`
	InternalDate   time.Time `json:"internal_date"`
	IsRead         bool      `json:"is_read"`
	IsFlagged      bool      `json:"is_flagged"`
	PhishingLevel  string    `json:"phishing_level"`
	PhishingScore  float64   `json:"phishing_score"`
	PhishingStatus string    `json:"phishing_status"`
}

// ListEmails pages the caller's messages newest first. folder_id narrows the
// listing to one folder; without it every folder of the caller is included.
func (s *Server) ListEmails(c *fiber.Ctx) error {
	userID, err := s.principal(c)
	if err != nil {
		return unauthorized(c)
	}

	folderIDs, err := s.requestedFolders(c, userID)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, err.Error())
	}

	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > 200 {
			return jsonError(c, fiber.StatusBadRequest, "bad limit")
		}
	}

	rows, next, err := s.store.ListByFolders(c.Context(), folderIDs, c.Query("cursor"), limit)
	if errors.Is(err, store.ErrBadCursor) {
		return jsonError(c, fiber.StatusBadRequest, "bad cursor")
	}
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "emails unavailable")
	}

	items := make([]emailListItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, emailListItem{
			ID:             row.ID,
			MessageID:      row.MessageID,
			FolderID:       row.FolderID,
			UID:            row.UID,
			Subject:        row.Message.Subject,
			SenderName:     row.Message.SenderName,
			SenderAddress:  row.Message.SenderAddress,
			Snippet:        row.Message.Snippet,
			InternalDate:   row.InternalDate,
			IsRead:         row.IsRead,
			IsFlagged:      row.IsFlagged,
			PhishingLevel:  row.Message.PhishingLevel,
			PhishingScore:  row.Message.PhishingScore,
			PhishingStatus: row.Message.PhishingStatus,
		})
	}
	return c.JSON(fiber.Map{"emails": items, "next_cursor": next})
}

// requestedFolders resolves the folder scope of a listing request, enforcing
// ownership.
func (s *Server) requestedFolders(c *fiber.Ctx, userID uint) ([]uint, error) {
	owned, err := s.store.FolderIDsByUser(c.Context(), userID)
	if err != nil {
		return nil, errors.New("folders unavailable")
	}

	raw := c.Query("folder_id")
	if raw == "" {
		return owned, nil
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, errors.New("bad folder_id")
	}
	for _, candidate := range owned {
		if candidate == uint(id) {
			return []uint{uint(id)}, nil
		}
	}
	return nil, errors.New("unknown folder_id")
}

type recipientView struct {
	Kind    string `json:"kind"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

// EmailDetail returns one message with body and recipients.
func (s *Server) EmailDetail(c *fiber.Ctx) error {
	userID, err := s.principal(c)
	if err != nil {
		return unauthorized(c)
	}
	id, err := idParam(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad email id")
	}

	target, err := s.store.MessageForDetection(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return jsonError(c, fiber.StatusNotFound, "email not found")
	}
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "email unavailable")
	}
	if target.OwnerUserID != userID {
		return jsonError(c, fiber.StatusNotFound, "email not found")
	}

	message, body, recipients, err := s.store.MessageDetail(c.Context(), id)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "email unavailable")
	}

	views := make([]recipientView, 0, len(recipients))
	for _, r := range recipients {
		views = append(views, recipientView{Kind: r.Kind, Name: r.DisplayName, Address: r.Address})
	}

	return c.JSON(fiber.Map{
		"id":              message.ID,
		"subject":         message.Subject,
		"sender_name":     message.SenderName,
		"sender_address":  message.SenderAddress,
		"received_at":     message.ReceivedAt,
		"size":            message.Size,
		"text":            body.Text,
		"html":            body.HTML,
		"recipients":      views,
		"phishing_level":  message.PhishingLevel,
		"phishing_score":  message.PhishingScore,
		"phishing_reason": message.PhishingReason,
		"phishing_status": message.PhishingStatus,
	})
}

// MarkRead flags one folder appearance as read.
func (s *Server) MarkRead(c *fiber.Ctx) error {
	userID, err := s.principal(c)
	if err != nil {
		return unauthorized(c)
	}
	id, err := idParam(c)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "bad row id")
	}

	ownerID, err := s.store.FolderMessageOwner(c.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		return jsonError(c, fiber.StatusNotFound, "email not found")
	}
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "email unavailable")
	}
	if ownerID != userID {
		return jsonError(c, fiber.StatusNotFound, "email not found")
	}

	if err := s.store.MarkRead(c.Context(), id); err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "not updated")
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

// Stream opens the caller's server-sent event stream.
func (s *Server) Stream(c *fiber.Ctx) error {
	userID, err := s.principal(c)
	if err != nil {
		return unauthorized(c)
	}
	return s.bus.Stream(c, userID)
}
