// Package browser opens suggested articles in the user's browser.
package browser

import (
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// Open launches the default browser on rawURL. $BROWSER, when set, wins over
// the platform opener.
func Open(rawURL string) error {
	if err := check(rawURL); err != nil {
		return err
	}
	name, args := command(runtime.GOOS, os.Getenv("BROWSER"), rawURL)
	if err := exec.Command(name, args...).Start(); err != nil {
		return fmt.Errorf("launching %s: %w", name, err)
	}
	return nil
}

func check(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open URL with scheme %q (only http/https allowed)", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("refusing to open URL without a host: %q", rawURL)
	}
	return nil
}

func command(goos, override, rawURL string) (string, []string) {
	if fields := strings.Fields(override); len(fields) > 0 {
		return fields[0], append(fields[1:], rawURL)
	}
	switch goos {
	case "darwin":
		return "open", []string{rawURL}
	case "windows":
		// rundll32 avoids cmd /c start and its shell interpretation
		return "rundll32", []string{"url.dll,FileProtocolHandler", rawURL}
	default:
		return "xdg-open", []string{rawURL}
	}
}
