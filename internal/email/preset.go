package email

import (
	"fmt"
	"log/slog"

	"github.com/mixelka/mailsync/pkg/models"
)

var presetEndpoints = map[models.ProtocolKind]Endpoint{
	models.ProtocolGmail: {Host: "imap.gmail.com", Port: DefaultTLSPort, TLS: true},
	models.ProtocolQQ:    {Host: "imap.qq.com", Port: DefaultTLSPort, TLS: true},
}

// PresetEndpoint returns the fixed server of a preset provider
func PresetEndpoint(kind models.ProtocolKind) (Endpoint, bool) {
	e, ok := presetEndpoints[kind]
	return e, ok
}

// NewPresetAdapter is a generic adapter whose server settings are replaced by the
// provider constants; whatever the account row holds is ignored.
func NewPresetAdapter(account *models.EmailAccount, opts Options, logger *slog.Logger) (*GenericAdapter, error) {
	endpoint, ok := PresetEndpoint(account.ProtocolKind)
	if !ok {
		return nil, fmt.Errorf("no preset for protocol kind %q", account.ProtocolKind)
	}

	preset := *account
	preset.IMAPServer = endpoint.Host
	preset.IMAPPort = endpoint.Port
	preset.UseTLS = endpoint.TLS

	return NewGenericAdapter(&preset, opts, logger.With("preset", string(account.ProtocolKind)))
}
