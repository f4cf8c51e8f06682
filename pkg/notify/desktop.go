package notify

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Runner executes an external command
type Runner func(ctx context.Context, name string, args ...string) error

func execRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// DesktopSender is a platform-specific desktop notification mechanism
type DesktopSender interface {
	Send(ctx context.Context, title, message string) error
}

// LinuxSender uses notify-send
type LinuxSender struct{ Run Runner }

func (l *LinuxSender) Send(ctx context.Context, title, message string) error {
	return l.Run(ctx, "notify-send", "--app-name=streamscraper", title, message)
}

// MacOSSender uses osascript
type MacOSSender struct{ Run Runner }

func (m *MacOSSender) Send(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(`display notification %s with title %s`, appleScriptQuote(message), appleScriptQuote(title))
	return m.Run(ctx, "osascript", "-e", script)
}

// WindowsSender shows a toast through PowerShell
type WindowsSender struct{ Run Runner }

func (w *WindowsSender) Send(ctx context.Context, title, message string) error {
	script := fmt.Sprintf(`
		[Windows.UI.Notifications.ToastNotificationManager, Windows.UI.Notifications, ContentType = WindowsRuntime] | Out-Null
		[Windows.Data.Xml.Dom.XmlDocument, Windows.Data.Xml.Dom.XmlDocument, ContentType = WindowsRuntime] | Out-Null
		$xml = @"
<toast>
	<visual>
		<binding template="ToastText02">
			<text id="1">%s</text>
			<text id="2">%s</text>
		</binding>
	</visual>
</toast>
"@
		$doc = [Windows.Data.Xml.Dom.XmlDocument]::new()
		$doc.LoadXml($xml)
		$toast = [Windows.UI.Notifications.ToastNotification]::new($doc)
		[Windows.UI.Notifications.ToastNotificationManager]::CreateToastNotifier("streamscraper").Show($toast)
	`, xmlEscape(title), xmlEscape(message))

	return w.Run(ctx, "powershell", "-NoProfile", "-NonInteractive", "-Command", script)
}

// SenderFor returns the sender for goos, or nil when the platform has none
func SenderFor(goos string, run Runner) DesktopSender {
	if run == nil {
		run = execRunner
	}
	switch goos {
	case "linux":
		return &LinuxSender{Run: run}
	case "darwin":
		return &MacOSSender{Run: run}
	case "windows":
		return &WindowsSender{Run: run}
	default:
		return nil
	}
}

// DesktopTransport pops up a desktop notification with the message summary
type DesktopTransport struct {
	sender DesktopSender
}

// NewDesktopTransport picks the sender for the running platform
func NewDesktopTransport() (*DesktopTransport, error) {
	sender := SenderFor(runtime.GOOS, nil)
	if sender == nil {
		return nil, fmt.Errorf("desktop notifications are not supported on %s", runtime.GOOS)
	}
	return &DesktopTransport{sender: sender}, nil
}

// NewDesktopTransportWithSender uses the given sender
func NewDesktopTransportWithSender(sender DesktopSender) *DesktopTransport {
	return &DesktopTransport{sender: sender}
}

// Name returns "desktop"
func (d *DesktopTransport) Name() string { return "desktop" }

// Send shows msg.Summary under msg.Subject
func (d *DesktopTransport) Send(ctx context.Context, msg Message) error {
	return d.sender.Send(ctx, msg.Subject, msg.Summary)
}

func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

var xmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func xmlEscape(s string) string {
	return xmlReplacer.Replace(s)
}
