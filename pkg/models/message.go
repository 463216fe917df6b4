package models

import "time"

// EmailMessage represents a synchronized email message
type EmailMessage struct {
	ID             int64     `db:"id"`
	AccountID      int64     `db:"account_id"`      // FK to EmailAccount
	Sender         string    `db:"sender"`          // Decoded From header, "Name <addr>"
	Subject        string    `db:"subject"`         // Decoded subject
	ReceivedAt     time.Time `db:"received_at"`     // UTC, second precision
	BodyText       string    `db:"body_text"`       // Plain text body, derived from HTML if needed
	BodyHTML       string    `db:"body_html"`       // Raw HTML body
	Folder         string    `db:"folder"`          // Source folder, INBOX
	HasAttachments bool      `db:"has_attachments"` // Set when attachments were stored
	CreatedAt      time.Time `db:"created_at"`

	Attachments []Attachment `db:"-"`
}

// Attachment is a file attached to a message
type Attachment struct {
	ID          int64  `db:"id"`
	MessageID   int64  `db:"message_id"`
	Filename    string `db:"filename"`
	ContentType string `db:"content_type"`
	SizeBytes   int64  `db:"size_bytes"`
	Content     []byte `db:"content"`
}

// DedupKey identifies a message within its account
type DedupKey struct {
	AccountID  int64
	Sender     string
	Subject    string
	ReceivedAt time.Time
}

// NormalizeReceivedAt converts a timestamp to the form used in dedup keys
func NormalizeReceivedAt(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// DedupKey returns the message dedup key
func (m *EmailMessage) DedupKey() DedupKey {
	return DedupKey{
		AccountID:  m.AccountID,
		Sender:     m.Sender,
		Subject:    m.Subject,
		ReceivedAt: NormalizeReceivedAt(m.ReceivedAt),
	}
}
