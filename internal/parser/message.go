package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/mailsync/pkg/models"
)

const (
	NoSubject     = "(no subject)"
	UnknownSender = "(unknown sender)"
)

// ParseError reports a message whose MIME structure cannot be read
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is or wraps a *ParseError
func IsParseError(err error) bool {
	var target *ParseError
	return errors.As(err, &target)
}

// Parser turns raw RFC 5322 messages into normalized messages
type Parser struct {
	html *HTMLConverter
	now  func() time.Time
}

// New creates a parser
func New() *Parser {
	return &Parser{
		html: NewHTMLConverter(),
		now:  time.Now,
	}
}

// Normalize decodes raw into a message for folder. fallbackDate (the server
// internal date) is used when the Date header is missing or unreadable.
// The returned message has no AccountID set.
func (p *Parser) Normalize(raw []byte, folder string, fallbackDate time.Time) (*models.EmailMessage, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &ParseError{Err: errors.New("empty message")}
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, &ParseError{Err: err}
	}
	if mr == nil {
		return nil, &ParseError{Err: errors.New("no message entity")}
	}
	defer mr.Close()

	msg := &models.EmailMessage{
		Folder:  folder,
		Subject: p.subject(mr.Header),
		Sender:  p.sender(mr.Header),
	}

	date, err := mr.Header.Date()
	if err != nil || date.IsZero() {
		date = fallbackDate
	}
	if date.IsZero() {
		date = p.now()
	}
	msg.ReceivedAt = models.NormalizeReceivedAt(date)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, &ParseError{Err: fmt.Errorf("failed to read part: %w", err)}
		}
		if part == nil {
			continue
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			if err := p.readInline(msg, h, part.Body); err != nil {
				return nil, err
			}
		case *mail.AttachmentHeader:
			if err := p.readAttachment(msg, h, part.Body); err != nil {
				return nil, err
			}
		}
	}

	if msg.BodyText == "" && msg.BodyHTML != "" {
		text, err := p.html.Text(msg.BodyHTML)
		if err == nil {
			msg.BodyText = text
		}
	}

	msg.HasAttachments = len(msg.Attachments) > 0
	return msg, nil
}

func (p *Parser) subject(h mail.Header) string {
	subject, err := h.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return NoSubject
	}
	return subject
}

// sender formats the first From address as "Name <addr>"
func (p *Parser) sender(h mail.Header) string {
	addrs, err := h.AddressList("From")
	if err == nil && len(addrs) > 0 {
		return FormatAddress(addrs[0].Name, addrs[0].Address)
	}

	text, err := h.Text("From")
	if err != nil {
		text = h.Get("From")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return UnknownSender
	}
	return text
}

// FormatAddress renders a mailbox as "Name <addr>", or just addr without a name
func FormatAddress(name, addr string) string {
	name = strings.TrimSpace(name)
	addr = strings.TrimSpace(addr)
	switch {
	case addr == "" && name == "":
		return UnknownSender
	case name == "" || name == addr:
		return addr
	case addr == "":
		return name
	}
	return fmt.Sprintf("%s <%s>", name, addr)
}

func (p *Parser) readInline(msg *models.EmailMessage, h *mail.InlineHeader, body io.Reader) error {
	ct, params, _ := h.ContentType()
	data, err := io.ReadAll(body)
	if err != nil {
		if message.IsUnknownCharset(err) {
			return nil
		}
		return &ParseError{Err: fmt.Errorf("failed to read inline part: %w", err)}
	}

	switch {
	case strings.HasPrefix(ct, "text/plain") && msg.BodyText == "":
		msg.BodyText = strings.TrimSpace(string(data))
	case strings.HasPrefix(ct, "text/html") && msg.BodyHTML == "":
		msg.BodyHTML = string(data)
	case !strings.HasPrefix(ct, "text/"):
		// inline images and the like are kept when they carry a name
		name := params["name"]
		if _, dparams, err := h.ContentDisposition(); err == nil && dparams["filename"] != "" {
			name = dparams["filename"]
		}
		if name != "" {
			msg.Attachments = append(msg.Attachments, newAttachment(name, ct, data))
		}
	}
	return nil
}

func (p *Parser) readAttachment(msg *models.EmailMessage, h *mail.AttachmentHeader, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return &ParseError{Err: fmt.Errorf("failed to read attachment: %w", err)}
	}

	filename, err := h.Filename()
	if err != nil || filename == "" {
		_, params, _ := h.ContentType()
		filename = params["name"]
	}
	if filename == "" {
		filename = "attachment"
		if exts, _ := mime.ExtensionsByType(contentType(h)); len(exts) > 0 {
			filename += exts[0]
		}
	}

	msg.Attachments = append(msg.Attachments, newAttachment(filename, contentType(h), data))
	return nil
}

func contentType(h *mail.AttachmentHeader) string {
	ct, _, err := h.ContentType()
	if err != nil || ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func newAttachment(filename, ct string, data []byte) models.Attachment {
	return models.Attachment{
		Filename:    filename,
		ContentType: ct,
		SizeBytes:   int64(len(data)),
		Content:     data,
	}
}
