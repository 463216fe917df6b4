package email

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// DefaultTLSPort is the implicit-TLS IMAP port
	DefaultTLSPort = 993
	// DefaultPlainPort is the cleartext IMAP port, upgraded with STARTTLS when offered
	DefaultPlainPort = 143
)

// ErrUnknownDomain is returned when no server is configured and the domain is not in the table
var ErrUnknownDomain = errors.New("unknown mail domain, configure imap_server explicitly")

// Endpoint is an IMAP server address
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

// Addr returns host:port
func (e Endpoint) Addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

// Common IMAP servers for popular email providers, all implicit TLS on 993
var knownIMAPServers = map[string]string{
	"gmail.com":      "imap.gmail.com",
	"googlemail.com": "imap.gmail.com",
	"qq.com":         "imap.qq.com",
	"foxmail.com":    "imap.qq.com",
	"163.com":        "imap.163.com",
	"126.com":        "imap.126.com",
	"yeah.net":       "imap.yeah.net",
	"sina.com":       "imap.sina.com",
	"outlook.com":    "outlook.office365.com",
	"hotmail.com":    "outlook.office365.com",
	"live.com":       "outlook.office365.com",
	"msn.com":        "outlook.office365.com",
	"yahoo.com":      "imap.mail.yahoo.com",
	"yahoo.co.uk":    "imap.mail.yahoo.com",
	"yandex.ru":      "imap.yandex.ru",
	"yandex.com":     "imap.yandex.com",
	"mail.ru":        "imap.mail.ru",
	"bk.ru":          "imap.mail.ru",
	"list.ru":        "imap.mail.ru",
	"inbox.ru":       "imap.mail.ru",
	"icloud.com":     "imap.mail.me.com",
	"me.com":         "imap.mail.me.com",
	"mac.com":        "imap.mail.me.com",
	"aol.com":        "imap.aol.com",
	"zoho.com":       "imap.zoho.com",
	"fastmail.com":   "imap.fastmail.com",
	"gmx.com":        "imap.gmx.com",
	"gmx.de":         "imap.gmx.net",
	"web.de":         "imap.web.de",
	"t-online.de":    "secureimap.t-online.de",
	"rambler.ru":     "imap.rambler.ru",
}

// ResolveIMAPServer looks up the IMAP server for an email address in the static table
func ResolveIMAPServer(email string) (Endpoint, error) {
	domain := GetDomainFromEmail(email)
	if domain == "" {
		return Endpoint{}, fmt.Errorf("invalid email format: %q", email)
	}

	host, ok := knownIMAPServers[domain]
	if !ok {
		return Endpoint{}, fmt.Errorf("%s: %w", domain, ErrUnknownDomain)
	}

	return Endpoint{Host: host, Port: DefaultTLSPort, TLS: true}, nil
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
