package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mixelka/mailsync/pkg/models"
)

// FindMessageByDedupKey returns the stored message matching key
func (db *DB) FindMessageByDedupKey(ctx context.Context, key models.DedupKey) (*models.EmailMessage, error) {
	var msg models.EmailMessage
	query := `
		SELECT id, account_id, sender, subject, received_at, body_text, body_html, folder, has_attachments, created_at
		FROM email_messages
		WHERE account_id = ? AND sender = ? AND subject = ? AND received_at = ?
	`
	err := db.GetContext(ctx, &msg, query, key.AccountID, key.Sender, key.Subject, models.NormalizeReceivedAt(key.ReceivedAt))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find message: %w", err)
	}
	return &msg, nil
}

// InsertMessage stores msg and its attachments in one transaction.
// created is false when a message with the same dedup key already exists;
// in that case nothing is written and id is 0.
func (db *DB) InsertMessage(ctx context.Context, msg *models.EmailMessage) (id int64, created bool, err error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	query := `
		INSERT OR IGNORE INTO email_messages (account_id, sender, subject, received_at, body_text, body_html, folder, has_attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx, query,
		msg.AccountID,
		msg.Sender,
		msg.Subject,
		models.NormalizeReceivedAt(msg.ReceivedAt),
		msg.BodyText,
		msg.BodyHTML,
		msg.Folder,
		len(msg.Attachments) > 0,
		now,
	)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create message: %w", err)
	}

	// Check if row was actually inserted (not ignored due to duplicate)
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return 0, false, tx.Rollback()
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to get last insert id: %w", err)
	}

	for i := range msg.Attachments {
		att := &msg.Attachments[i]
		att.MessageID = id
		if err = insertAttachment(ctx, tx, att); err != nil {
			return 0, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit message: %w", err)
	}

	msg.ID = id
	msg.CreatedAt = now
	msg.HasAttachments = len(msg.Attachments) > 0
	return id, true, nil
}

// InsertAttachment stores a single attachment for an existing message
func (db *DB) InsertAttachment(ctx context.Context, att *models.Attachment) error {
	return insertAttachment(ctx, db.DB, att)
}

func insertAttachment(ctx context.Context, ext sqlx.ExtContext, att *models.Attachment) error {
	query := `
		INSERT INTO email_attachments (message_id, filename, content_type, size_bytes, content)
		VALUES (?, ?, ?, ?, ?)
	`
	result, err := ext.ExecContext(ctx, query, att.MessageID, att.Filename, att.ContentType, att.SizeBytes, att.Content)
	if err != nil {
		return fmt.Errorf("failed to create attachment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	att.ID = id
	return nil
}

// ListMessages returns the stored messages of an account, newest first
func (db *DB) ListMessages(ctx context.Context, accountID int64, limit int) ([]*models.EmailMessage, error) {
	var msgs []*models.EmailMessage
	query := `
		SELECT id, account_id, sender, subject, received_at, body_text, body_html, folder, has_attachments, created_at
		FROM email_messages
		WHERE account_id = ?
		ORDER BY received_at DESC, id DESC
		LIMIT ?
	`
	if err := db.SelectContext(ctx, &msgs, query, accountID, limit); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return msgs, nil
}

// GetMessage returns one message of an account
func (db *DB) GetMessage(ctx context.Context, accountID, messageID int64) (*models.EmailMessage, error) {
	var msg models.EmailMessage
	query := `
		SELECT id, account_id, sender, subject, received_at, body_text, body_html, folder, has_attachments, created_at
		FROM email_messages
		WHERE id = ? AND account_id = ?
	`
	err := db.GetContext(ctx, &msg, query, messageID, accountID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &msg, nil
}

// GetAttachments returns the attachments of a message
func (db *DB) GetAttachments(ctx context.Context, messageID int64) ([]models.Attachment, error) {
	var atts []models.Attachment
	query := `SELECT id, message_id, filename, content_type, size_bytes, content FROM email_attachments WHERE message_id = ? ORDER BY id`
	if err := db.SelectContext(ctx, &atts, query, messageID); err != nil {
		return nil, fmt.Errorf("failed to get attachments: %w", err)
	}
	return atts, nil
}

// CountMessages returns the number of stored messages for an account
func (db *DB) CountMessages(ctx context.Context, accountID int64) (int, error) {
	var n int
	if err := db.GetContext(ctx, &n, `SELECT COUNT(*) FROM email_messages WHERE account_id = ?`, accountID); err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}
