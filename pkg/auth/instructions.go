package auth

import (
	"fmt"
	"io"
	"strings"
)

// ShowTokenGuide explains where the bearer token and SMTP password come from
func ShowTokenGuide(w io.Writer) {
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w, "STREAM CREDENTIALS")
	fmt.Fprintln(w, strings.Repeat("=", 72))
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Bearer token")
	fmt.Fprintln(w, "   1. Open the developer portal of the streaming provider")
	fmt.Fprintln(w, "   2. Select the project/app with filtered stream access")
	fmt.Fprintln(w, "   3. Under 'Keys and tokens', generate or copy the Bearer Token")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SMTP password (only for e-mail notifications)")
	fmt.Fprintln(w, "   Use an app password for the mailbox configured under smtp.username.")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Secrets are never read from the config file or the command line.")
	fmt.Fprintf(w, "   Environment: %s, %s\n", "STREAMSCRAPER_BEARER_TOKEN", "STREAMSCRAPER_SMTP_PASSWORD")
	fmt.Fprintln(w, "   Stored: system keychain, or an encrypted file when no keychain is available")
	fmt.Fprintln(w, strings.Repeat("=", 72))
}
