package models

import "time"

// ProtocolKind selects the protocol adapter used for an account
type ProtocolKind string

const (
	ProtocolIMAP    ProtocolKind = "imap"    // generic IMAP, server from account or address domain
	ProtocolGmail   ProtocolKind = "gmail"   // preset
	ProtocolQQ      ProtocolKind = "qq"      // preset
	ProtocolOutlook ProtocolKind = "outlook" // OAuth2 refresh token + XOAUTH2
)

// Valid reports whether k is a known protocol kind
func (k ProtocolKind) Valid() bool {
	switch k {
	case ProtocolIMAP, ProtocolGmail, ProtocolQQ, ProtocolOutlook:
		return true
	}
	return false
}

// EmailAccount represents a remote mailbox to synchronize
type EmailAccount struct {
	ID                int64        `db:"id"`
	OwnerID           int64        `db:"owner_id"`
	Email             string       `db:"email"`
	Password          string       `db:"password"`      // Encrypted at rest
	ProtocolKind      ProtocolKind `db:"protocol_kind"` // imap, gmail, qq, outlook
	IMAPServer        string       `db:"imap_server"`   // Host only, e.g. imap.example.com
	IMAPPort          int          `db:"imap_port"`     // 0 means protocol default
	UseTLS            bool         `db:"use_tls"`
	OAuthClientID     string       `db:"oauth_client_id"`
	OAuthRefreshToken string       `db:"oauth_refresh_token"` // Encrypted at rest
	OAuthAccessToken  string       `db:"oauth_access_token"`  // Cached, refreshed on every sync
	LastCheckedAt     *time.Time   `db:"last_checked_at"`     // Watermark, nil before the first completed sync
	RealTimeEnabled   bool         `db:"realtime_enabled"`
	CreatedAt         time.Time    `db:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at"`
}
