package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/nugget/sayang/internal/config"
	"github.com/nugget/sayang/internal/defaults"
)

// runInit prepares a working directory: a data directory and a starter
// config.yaml. Existing files are never overwritten. When the config in
// dir names the bot's username, a QR code for its t.me link is printed
// so a phone can open the chat directly.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Sayang workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// The config holds the bot token.
	configPath := filepath.Join(dir, "config.yaml")
	if err := writeIfMissing(w, configPath, defaults.ConfigYAML, 0o600); err != nil {
		return err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set telegram.token (or SAYANG_BOT_TOKEN) and run: sayang serve")

	if link := botLink(configPath); link != "" {
		if err := printQR(w, link); err != nil {
			return err
		}
	}
	return nil
}

// writeIfMissing creates path with content and mode, reporting the
// outcome to w. An existing file is left untouched.
func writeIfMissing(w io.Writer, path string, content []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, mode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			fmt.Fprintf(w, "  - %s (exists, skipping)\n", path)
			return nil
		}
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(content); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	fmt.Fprintf(w, "  ✓ %s\n", path)
	return nil
}

// botLink returns https://t.me/<username> when the config at path sets
// telegram.username, or "" otherwise. The config does not need to be
// valid yet; a fresh workspace usually has no token.
func botLink(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	username, err := config.PeekTelegramUsername(data)
	if err != nil || username == "" {
		return ""
	}
	return "https://t.me/" + username
}

func printQR(w io.Writer, link string) error {
	qr, err := qrcode.New(link, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("qr code: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Scan to open %s\n", link)
	fmt.Fprint(w, qr.ToSmallString(false))
	return nil
}
