package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"streamscraper/pkg/auth"
	"streamscraper/pkg/ui"
)

var logoutAll bool

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored credentials",
	Long: `Manage the bearer token and mail password securely.

Credentials are stored using:
  - System keychain (when available)
  - Encrypted file with PBKDF2 key derivation
  - Environment variables (read only)

Never share your credentials or config files!`,
}

var authLoginCmd = &cobra.Command{
	Use:   "login [profile]",
	Short: "Store a bearer token securely",
	Long: `Store a bearer token, and optionally an SMTP password, in the system
keychain or an encrypted file.

Profiles let you keep tokens for several developer apps; the profile
named "default" is used unless --profile is given.`,
	Example: `  # Store the default token
  streamscraper auth login

  # Store a token under another profile
  streamscraper auth login research`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogin,
}

var authLogoutCmd = &cobra.Command{
	Use:   "logout [profile]",
	Short: "Remove stored credentials",
	Example: `  # Remove the default profile
  streamscraper auth logout

  # Remove every profile
  streamscraper auth logout --all`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLogout,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Long:  `List stored credential profiles with masked secrets.`,
	Args:  cobra.NoArgs,
	Run:   runList,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(authLoginCmd)
	authCmd.AddCommand(authLogoutCmd)
	authCmd.AddCommand(authListCmd)

	authLogoutCmd.Flags().BoolVar(&logoutAll, "all", false, "remove every stored profile")
}

func runLogin(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	name := auth.DefaultProfile
	if len(args) > 0 {
		name = strings.TrimSpace(args[0])
	}

	reader := bufio.NewReader(os.Stdin)
	auth.ShowTokenGuide(os.Stdout)

	if existing, _ := manager.Retrieve(name); existing != nil && existing.BearerToken != "" {
		fmt.Printf("\nProfile '%s' already exists. Replace it? (y/N): ", name)
		input, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
			return
		}
	}

	fmt.Print("\nBearer token (hidden): ")
	token, err := readPassword()
	if err != nil {
		ui.PrintError("Failed to read bearer token", err.Error())
		os.Exit(1)
	}
	token = strings.TrimSpace(token)

	creds := &auth.Credentials{
		Profile:      name,
		BearerToken:  token,
		LastModified: time.Now(),
	}

	fmt.Print("\nStore an SMTP password for mail notifications? (y/N): ")
	input, _ := reader.ReadString('\n')
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(input)), "y") {
		fmt.Print("SMTP username: ")
		username, _ := reader.ReadString('\n')
		creds.SMTPUsername = strings.TrimSpace(username)

		fmt.Print("SMTP password (hidden): ")
		password, err := readPassword()
		if err != nil {
			ui.PrintError("Failed to read SMTP password", err.Error())
			os.Exit(1)
		}
		creds.SMTPPassword = strings.TrimSpace(password)
	}

	if err := manager.Store(creds); err != nil {
		ui.PrintError("Failed to store credentials", err.Error())
		os.Exit(1)
	}

	sanitized := auth.Sanitize(creds)
	ui.PrintSuccess("Credentials stored for profile: " + name)
	fmt.Printf("   Bearer token: %s\n", sanitized.BearerToken)
	if creds.SMTPPassword != "" {
		fmt.Printf("   SMTP user: %s\n", sanitized.SMTPUsername)
	}

	fmt.Println("\nStart collecting with:")
	if name == auth.DefaultProfile {
		fmt.Println("   $ streamscraper stream --rules rules.txt")
	} else {
		fmt.Printf("   $ streamscraper stream --rules rules.txt --profile %s\n", name)
	}
}

func runLogout(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	if logoutAll {
		reader := bufio.NewReader(os.Stdin)
		fmt.Print("Remove ALL profiles? This cannot be undone! (yes/N): ")
		confirm, _ := reader.ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			return
		}
		if err := manager.DeleteAll(); err != nil {
			ui.PrintError("Failed to remove profiles", err.Error())
			os.Exit(1)
		}
		ui.PrintSuccess("All profiles removed")
		return
	}

	name := auth.DefaultProfile
	if len(args) > 0 {
		name = args[0]
	}
	if err := manager.Delete(name); err != nil {
		ui.PrintError("Failed to remove profile", err.Error())
		os.Exit(1)
	}
	ui.PrintSuccess("Profile removed: " + name)
}

func runList(cmd *cobra.Command, args []string) {
	manager, err := auth.NewManager()
	if err != nil {
		ui.PrintError("Failed to initialize credential manager", err.Error())
		os.Exit(1)
	}

	profiles, err := manager.List()
	if err != nil {
		ui.PrintError("Failed to list profiles", err.Error())
		os.Exit(1)
	}

	if len(profiles) == 0 {
		ui.PrintInfo("No stored profiles", "Use 'streamscraper auth login' to add one")
		return
	}

	ui.PrintHighlight("Stored Profiles")
	fmt.Println()

	for i, creds := range profiles {
		sanitized := auth.Sanitize(creds)
		fmt.Printf("%d. Profile: %s\n", i+1, sanitized.Profile)
		fmt.Printf("   Bearer token: %s\n", sanitized.BearerToken)
		if sanitized.SMTPPassword != "" {
			fmt.Printf("   SMTP user: %s (password stored)\n", sanitized.SMTPUsername)
		}
		if !sanitized.LastModified.IsZero() {
			fmt.Printf("   Last Modified: %s\n", sanitized.LastModified.Format("2006-01-02 15:04:05"))
		}
		fmt.Println()
	}
}

// readPassword reads a secret from stdin without echoing
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err == nil {
			return string(password), nil
		}
	}

	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
