package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/registry-tools/apicurio-sync/internal/auth"
	"github.com/registry-tools/apicurio-sync/internal/contexts"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate with the current registry",
}

var loginBasicCmd = &cobra.Command{
	Use:   "basic",
	Short: "Store basic auth credentials for the current context",
	RunE:  runLoginBasic,
}

var loginOidcCmd = &cobra.Command{
	Use:   "oidc ISSUER_URL",
	Short: "Authenticate via OpenID Connect",
	Args:  cobra.ExactArgs(1),
	RunE:  runLoginOidc,
}

func init() {
	loginBasicCmd.Flags().StringP("username", "u", "", "username")
	loginBasicCmd.Flags().Bool("password-stdin", false,
		"read the password from stdin; if not set, no password is stored")
	_ = loginBasicCmd.MarkFlagRequired("username")

	loginOidcCmd.Flags().String("client-id", "", "the OIDC client ID to use")
	loginOidcCmd.Flags().String("client-secret", "", "the OIDC client secret to use")
	loginOidcCmd.Flags().String("scope", "openid profile email offline_access",
		"the OIDC scope to use")
	loginOidcCmd.Flags().IntP("port", "p", 9876,
		"local network port used to receive the authentication callback")
	_ = loginOidcCmd.MarkFlagRequired("client-id")

	loginCmd.AddCommand(loginBasicCmd)
	loginCmd.AddCommand(loginOidcCmd)
}

// currentContextForLogin loads the context the credentials will attach to.
func currentContextForLogin() (string, *contexts.File, contexts.Context, error) {
	path, err := contextFilePath()
	if err != nil {
		return "", nil, contexts.Context{}, err
	}
	f, err := contexts.LoadFile(path)
	if err != nil {
		return "", nil, contexts.Context{}, err
	}
	ctx, err := f.Get("")
	if err != nil {
		return "", nil, contexts.Context{}, fmt.Errorf("no current context configured: %w", err)
	}
	return path, f, ctx, nil
}

func runLoginBasic(cmd *cobra.Command, args []string) error {
	username, _ := cmd.Flags().GetString("username")
	passwordStdin, _ := cmd.Flags().GetBool("password-stdin")

	password := ""
	if passwordStdin {
		reader := bufio.NewReader(cmd.InOrStdin())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("reading password from stdin: %w", err)
		}
		password = strings.TrimRight(line, "\n")
	}

	path, f, ctx, err := currentContextForLogin()
	if err != nil {
		return err
	}
	ctx.Auth = auth.BasicLogin(username, password)
	f.Set(ctx, true)
	if err := f.Save(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Updated context auth information")
	return nil
}

func runLoginOidc(cmd *cobra.Command, args []string) error {
	issuerURL := args[0]
	clientID, _ := cmd.Flags().GetString("client-id")
	clientSecret, _ := cmd.Flags().GetString("client-secret")
	scope, _ := cmd.Flags().GetString("scope")
	port, _ := cmd.Flags().GetInt("port")

	path, f, ctx, err := currentContextForLogin()
	if err != nil {
		return err
	}

	record, err := auth.OIDCLogin(cmd.Context(), auth.OIDCLoginOptions{
		IssuerURL:    issuerURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Scope:        scope,
		Port:         port,
		OpenURL: func(authURL string) {
			fmt.Fprintf(cmd.ErrOrStderr(),
				"Visit the following URL in your browser to complete the login:\n\n  %s\n\n", authURL)
		},
	})
	if err != nil {
		return err
	}

	ctx.Auth = record
	f.Set(ctx, true)
	if err := f.Save(path); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Updated context auth information")
	return nil
}
