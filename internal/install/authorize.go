// Package install implements the two legs of the platform install flow:
// sending the merchant to the platform installer and handling its callback.
package install

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/shohag/risebridge/internal/apperr"
)

// RedirectorConfig holds the fixed inputs of the installer URL.
type RedirectorConfig struct {
	InstallerURL string
	ClientID     string
	CallbackURL  string
}

// Redirector builds installer URLs.
type Redirector struct {
	cfg RedirectorConfig
}

func NewRedirector(cfg RedirectorConfig) *Redirector {
	return &Redirector{cfg: cfg}
}

// BuildAuthorizeURL returns the installer URL for the platform-issued installToken.
func (r *Redirector) BuildAuthorizeURL(installToken string) (string, error) {
	installToken = strings.TrimSpace(installToken)
	if installToken == "" {
		return "", apperr.ErrMissingInstallToken
	}

	base, err := url.Parse(r.cfg.InstallerURL)
	if err != nil {
		return "", fmt.Errorf("parse installer url: %w", err)
	}

	q := base.Query()
	q.Set("appId", r.cfg.ClientID)
	q.Set("redirectUrl", r.cfg.CallbackURL)
	q.Set("token", installToken)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// CallbackURL joins the externally reachable base URL with the callback path.
func CallbackURL(publicURL, callbackPath string) string {
	return strings.TrimRight(publicURL, "/") + "/" + strings.TrimLeft(callbackPath, "/")
}
