package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/mixelka/mailsync/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when trying to insert a duplicate record
var ErrAlreadyExists = errors.New("record already exists")

const accountColumns = `id, owner_id, email, password, protocol_kind, imap_server, imap_port, use_tls,
	oauth_client_id, oauth_refresh_token, oauth_access_token, last_checked_at, realtime_enabled,
	created_at, updated_at`

// CreateAccount creates a new email account
func (db *DB) CreateAccount(ctx context.Context, account *models.EmailAccount) error {
	password, err := db.seal(account.Password)
	if err != nil {
		return err
	}
	refreshToken, err := db.seal(account.OAuthRefreshToken)
	if err != nil {
		return err
	}
	accessToken, err := db.seal(account.OAuthAccessToken)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO email_accounts (owner_id, email, password, protocol_kind, imap_server, imap_port, use_tls,
			oauth_client_id, oauth_refresh_token, oauth_access_token, last_checked_at, realtime_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, query,
		account.OwnerID,
		account.Email,
		password,
		account.ProtocolKind,
		account.IMAPServer,
		account.IMAPPort,
		account.UseTLS,
		account.OAuthClientID,
		refreshToken,
		accessToken,
		account.LastCheckedAt,
		account.RealTimeEnabled,
		now,
		now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create account: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}

	account.ID = id
	account.CreatedAt = now
	account.UpdatedAt = now
	return nil
}

// GetAccount returns an account by ID with secrets decrypted
func (db *DB) GetAccount(ctx context.Context, id int64) (*models.EmailAccount, error) {
	var account models.EmailAccount
	query := `SELECT ` + accountColumns + ` FROM email_accounts WHERE id = ?`
	err := db.GetContext(ctx, &account, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	if err := db.openAccount(&account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListAccounts returns all accounts ordered by ID
func (db *DB) ListAccounts(ctx context.Context) ([]*models.EmailAccount, error) {
	var accounts []*models.EmailAccount
	query := `SELECT ` + accountColumns + ` FROM email_accounts ORDER BY id`
	if err := db.SelectContext(ctx, &accounts, query); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, db.openAccounts(accounts)
}

// GetAccountsFlagged returns accounts whose real-time flag equals realTime
func (db *DB) GetAccountsFlagged(ctx context.Context, realTime bool) ([]*models.EmailAccount, error) {
	var accounts []*models.EmailAccount
	query := `SELECT ` + accountColumns + ` FROM email_accounts WHERE realtime_enabled = ? ORDER BY id`
	if err := db.SelectContext(ctx, &accounts, query, realTime); err != nil {
		return nil, fmt.Errorf("failed to get flagged accounts: %w", err)
	}
	return accounts, db.openAccounts(accounts)
}

// UpdateAccessToken stores a freshly issued OAuth access token
func (db *DB) UpdateAccessToken(ctx context.Context, id int64, token string) error {
	sealed, err := db.seal(token)
	if err != nil {
		return err
	}

	query := `UPDATE email_accounts SET oauth_access_token = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "update access token", query, sealed, time.Now().UTC(), id)
}

// UpdateWatermark advances last_checked_at. It never moves the watermark
// backwards; an older value leaves the row untouched and is not an error.
func (db *DB) UpdateWatermark(ctx context.Context, id int64, at time.Time) error {
	at = at.UTC()
	query := `
		UPDATE email_accounts SET last_checked_at = ?, updated_at = ?
		WHERE id = ? AND (last_checked_at IS NULL OR last_checked_at < ?)
	`
	if _, err := db.ExecContext(ctx, query, at, time.Now().UTC(), id, at); err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	return nil
}

// SetRealTime toggles real-time polling for an account
func (db *DB) SetRealTime(ctx context.Context, id int64, enabled bool) error {
	query := `UPDATE email_accounts SET realtime_enabled = ?, updated_at = ? WHERE id = ?`
	return db.execOne(ctx, "set realtime", query, enabled, time.Now().UTC(), id)
}

// DeleteAccount deletes an account with its messages
func (db *DB) DeleteAccount(ctx context.Context, id int64) error {
	query := `DELETE FROM email_accounts WHERE id = ?`
	return db.execOne(ctx, "delete account", query, id)
}

func (db *DB) execOne(ctx context.Context, op, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) seal(plaintext string) (string, error) {
	if db.box == nil {
		return plaintext, nil
	}
	sealed, err := db.box.Encrypt(plaintext)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt secret: %w", err)
	}
	return sealed, nil
}

func (db *DB) open(sealed string) (string, error) {
	if db.box == nil {
		return sealed, nil
	}
	plaintext, err := db.box.Decrypt(sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}
	return plaintext, nil
}

func (db *DB) openAccount(a *models.EmailAccount) error {
	var err error
	if a.Password, err = db.open(a.Password); err != nil {
		return err
	}
	if a.OAuthRefreshToken, err = db.open(a.OAuthRefreshToken); err != nil {
		return err
	}
	if a.OAuthAccessToken, err = db.open(a.OAuthAccessToken); err != nil {
		return err
	}
	return nil
}

func (db *DB) openAccounts(accounts []*models.EmailAccount) error {
	for _, a := range accounts {
		if err := db.openAccount(a); err != nil {
			return fmt.Errorf("account %d: %w", a.ID, err)
		}
	}
	return nil
}
