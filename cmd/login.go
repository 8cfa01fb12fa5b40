package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/andresmejia3/warden/internal/auth"
	"github.com/andresmejia3/warden/internal/backend"
	"github.com/andresmejia3/warden/internal/utils"
)

var loginUser string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign the kiosk in with an operator account",
	Long: "Exchanges operator credentials for a backend token and stores it, " +
		"so `warden run` can confirm transactions after a restart.",
	Run: func(cmd *cobra.Command, args []string) {
		reader := bufio.NewReader(os.Stdin)
		user := loginUser
		if user == "" {
			user = prompt(os.Stdout, reader, "Username: ")
		}
		if user == "" {
			utils.Die("Login failed", errors.New("username is required"), nil)
		}

		pass, err := readPassword(reader)
		if err != nil {
			utils.Die("Failed to read password", err, nil)
		}

		sess := auth.NewSession(DB)
		client := backend.NewClient(backendConfig(Cfg), sess)
		creds, err := sess.SignIn(cmd.Context(), client, user, pass, Cfg.AppID)
		if err != nil {
			utils.Die("Login failed", err, nil)
		}
		fmt.Printf("✅ Signed in as %s\n", displayName(creds))
		if !creds.ExpiresAt.IsZero() {
			fmt.Printf("   Session expires %s\n", creds.ExpiresAt.Local().Format(time.RFC1123))
		}
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored operator session",
	Run: func(cmd *cobra.Command, args []string) {
		if err := auth.NewSession(DB).Clear(cmd.Context()); err != nil {
			utils.Die("Logout failed", err, nil)
		}
		fmt.Println("👋 Signed out.")
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in operator",
	Run: func(cmd *cobra.Command, args []string) {
		creds, err := auth.NewSession(DB).Restore(cmd.Context())
		switch {
		case errors.Is(err, auth.ErrNoSession):
			fmt.Println("Nobody is signed in.")
			return
		case errors.Is(err, auth.ErrExpired):
			fmt.Println("The stored session has expired. Run `warden login`.")
			return
		case err != nil:
			utils.Die("Failed to load operator session", err, nil)
		}
		fmt.Printf("%s (app %s, role %s)\n", displayName(creds), creds.AppID, creds.RoleID)
		fmt.Printf("Signed in %s\n", creds.SignedInAt.Local().Format(time.RFC1123))
		if len(creds.Permissions) > 0 {
			fmt.Printf("Permissions: %s\n", strings.Join(creds.Permissions, ", "))
		}
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "user", "u", "", "Operator username")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

func prompt(w io.Writer, r *bufio.Reader, label string) string {
	fmt.Fprint(w, label)
	s, _ := r.ReadString('\n')
	return strings.TrimSpace(s)
}

// readPassword hides input on a terminal and falls back to a plain line for piped stdin.
func readPassword(r *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		s, err := r.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimRight(s, "\r\n"), nil
	}
	fmt.Print("Password: ")
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func displayName(c auth.Credentials) string {
	if c.DisplayName != "" && c.DisplayName != c.Username {
		return fmt.Sprintf("%s (%s)", c.DisplayName, c.Username)
	}
	return c.Username
}
