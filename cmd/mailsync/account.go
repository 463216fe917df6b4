package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mixelka/mailsync/internal/database"
	"github.com/mixelka/mailsync/internal/email"
	"github.com/mixelka/mailsync/pkg/models"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage synchronized accounts",
	}
	cmd.AddCommand(newAccountAddCmd(), newAccountListCmd(), newAccountRealTimeCmd(), newAccountDeleteCmd())
	return cmd
}

func newAccountAddCmd() *cobra.Command {
	var (
		account models.EmailAccount
		kind    string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			account.ProtocolKind = models.ProtocolKind(strings.ToLower(kind))
			if err := validateAccount(&account); err != nil {
				return err
			}

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.CreateAccount(cmd.Context(), &account); err != nil {
				if errors.Is(err, database.ErrAlreadyExists) {
					return fmt.Errorf("account %s already exists for owner %d", account.Email, account.OwnerID)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "account %d added: %s (%s)\n", account.ID, account.Email, account.ProtocolKind)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&account.Email, "email", "", "mailbox address")
	f.StringVar(&account.Password, "password", os.Getenv("MAILSYNC_PASSWORD"), "password or app password (defaults to $MAILSYNC_PASSWORD)")
	f.StringVar(&kind, "kind", string(models.ProtocolIMAP), "protocol kind: imap, gmail, qq or outlook")
	f.StringVar(&account.IMAPServer, "server", "", "IMAP host, inferred from the address domain when empty")
	f.IntVar(&account.IMAPPort, "port", 0, "IMAP port, 993 with TLS and 143 without when zero")
	f.BoolVar(&account.UseTLS, "tls", true, "use implicit TLS")
	f.Int64Var(&account.OwnerID, "owner", 0, "owner id")
	f.StringVar(&account.OAuthClientID, "client-id", "", "OAuth client id (outlook)")
	f.StringVar(&account.OAuthRefreshToken, "refresh-token", os.Getenv("MAILSYNC_REFRESH_TOKEN"), "OAuth refresh token (outlook, defaults to $MAILSYNC_REFRESH_TOKEN)")
	f.BoolVar(&account.RealTimeEnabled, "realtime", false, "include the account in real-time polling")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

// validateAccount checks that the account carries the credentials its kind needs
func validateAccount(account *models.EmailAccount) error {
	if !account.ProtocolKind.Valid() {
		return fmt.Errorf("unknown protocol kind %q", account.ProtocolKind)
	}
	if email.GetDomainFromEmail(account.Email) == "" {
		return fmt.Errorf("invalid email address %q", account.Email)
	}

	switch account.ProtocolKind {
	case models.ProtocolOutlook:
		if account.OAuthClientID == "" || account.OAuthRefreshToken == "" {
			return errors.New("outlook accounts need --client-id and --refresh-token")
		}
	default:
		if account.Password == "" {
			return errors.New("password is required")
		}
	}

	if account.ProtocolKind == models.ProtocolIMAP && account.IMAPServer == "" {
		if _, err := email.ResolveIMAPServer(account.Email); err != nil {
			return fmt.Errorf("%w: pass --server", err)
		}
	}
	return nil
}

func newAccountListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered mailboxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			accounts, err := a.db.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tEMAIL\tKIND\tSERVER\tREALTIME\tLAST CHECKED")
			for _, acc := range accounts {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\t%s\n",
					acc.ID, acc.Email, acc.ProtocolKind, serverColumn(acc), acc.RealTimeEnabled, lastChecked(acc))
			}
			return w.Flush()
		},
	}
}

func serverColumn(acc *models.EmailAccount) string {
	if e, ok := email.PresetEndpoint(acc.ProtocolKind); ok {
		return e.Addr()
	}
	if acc.IMAPServer == "" {
		return "-"
	}
	if acc.IMAPPort != 0 {
		return acc.IMAPServer + ":" + strconv.Itoa(acc.IMAPPort)
	}
	return acc.IMAPServer
}

func lastChecked(acc *models.EmailAccount) string {
	if acc.LastCheckedAt == nil {
		return "never"
	}
	return acc.LastCheckedAt.Local().Format(time.DateTime)
}

func newAccountRealTimeCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "realtime <id> on|off",
		Short:     "Toggle real-time polling for an account",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}

			var enabled bool
			switch args[1] {
			case "on":
				enabled = true
			case "off":
			default:
				return fmt.Errorf("expected on or off, got %q", args[1])
			}

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.SetRealTime(cmd.Context(), id, enabled); err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return fmt.Errorf("account %d not found", id)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "real-time polling %s for account %d\n", args[1], id)
			return nil
		},
	}
}

func newAccountDeleteCmd() *cobra.Command {
	var apiAddr string

	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an account with its stored messages",
		Long: `Delete an account with its stored messages and attachments.

Without --api the row is removed directly and a sync running inside
"mailsync serve" is not noticed. Pass --api with the service address to have
the service refuse the delete while the account is syncing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseAccountID(args[0])
			if err != nil {
				return err
			}

			if apiAddr != "" {
				if err := newControlClient(apiAddr).DeleteAccount(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %d deleted\n", id)
				return nil
			}

			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.db.DeleteAccount(cmd.Context(), id); err != nil {
				if errors.Is(err, database.ErrNotFound) {
					return fmt.Errorf("account %d not found", id)
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "account %d deleted\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiAddr, "api", "", "address of a running service, e.g. localhost:8080")
	return cmd
}

func parseAccountID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid account id %q", raw)
	}
	return id, nil
}
