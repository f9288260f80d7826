package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate checks settings every command relies on. Console-only settings
// are checked by ValidateConsole.
func (c *Config) Validate() error {
	if err := validateBaseURL(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if err := validateBaseURL(c.Images.BaseURL); err != nil {
		return fmt.Errorf("images.base_url: %w", err)
	}
	if strings.TrimSpace(c.Images.Tenant) == "" || strings.TrimSpace(c.Images.Site) == "" {
		return errors.New("images.tenant and images.site are required")
	}
	if c.Images.MaxEdge < 64 {
		return fmt.Errorf("images.max_edge must be >= 64 (got %d)", c.Images.MaxEdge)
	}
	if c.Images.Quality < 1 || c.Images.Quality > 100 {
		return fmt.Errorf("images.quality must be 1-100 (got %d)", c.Images.Quality)
	}
	if c.Backend.Timeout <= 0 {
		return errors.New("backend.timeout must be > 0")
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log.format must be json or text (got %q)", c.Log.Format)
	}
	return nil
}

// ValidateConsole checks the settings only the console server needs.
func (c *Config) ValidateConsole() error {
	if strings.TrimSpace(c.Auth.Username) == "" {
		return errors.New("auth.username is required")
	}
	if !strings.HasPrefix(c.Auth.PasswordHash, "$2") {
		return errors.New("auth.password_hash must be a bcrypt hash (run `clubadmin setup`)")
	}
	if c.Auth.SessionTTL <= 0 {
		return errors.New("auth.session_ttl must be > 0")
	}
	if c.Console.CSRFKey != "" {
		if _, err := c.Console.CSRFKeyBytes(); err != nil {
			return err
		}
	}
	if c.Console.MaxUploadBytes <= 0 {
		return errors.New("console.max_upload_bytes must be > 0")
	}
	return nil
}

// CSRFKeyBytes decodes the hex encoded 32 byte CSRF key.
func (c ConsoleConfig) CSRFKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.CSRFKey))
	if err != nil || len(key) != 32 {
		return nil, errors.New("console.csrf_key must be 64 hex characters")
	}
	return key, nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http(s) URL (got %q)", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}
