package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/clipstream/internal/apperror"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// RemoteConfig points at an external identity provider.
//
// Tokens presented by users are checked against {BaseURL}/userinfo. Admin
// calls (account deletion) use a client-credentials token from TokenURL.
type RemoteConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Remote is a Directory backed by an OAuth2 provider.
type Remote struct {
	base   string
	users  *http.Client // plain client, the user's own token is set per request
	admin  *http.Client // injects and refreshes the service token
	logger *slog.Logger
}

var _ Directory = (*Remote)(nil)

func NewRemote(cfg RemoteConfig, logger *slog.Logger) (*Remote, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("identity: provider base URL is required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = strings.TrimSuffix(cfg.BaseURL, "/") + "/oauth2/token"
	}

	users := &http.Client{Timeout: 10 * time.Second}

	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}
	// The token source uses the same transport with a timeout for the
	// token endpoint itself.
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, users)
	admin := cc.Client(ctx)
	admin.Timeout = 10 * time.Second

	return &Remote{
		base:   strings.TrimSuffix(cfg.BaseURL, "/"),
		users:  users,
		admin:  admin,
		logger: logger,
	}, nil
}

type userInfo struct {
	Subject string `json:"sub"`
}

// ValidateToken asks the provider who the token belongs to.
func (r *Remote) ValidateToken(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+"/userinfo", nil)
	if err != nil {
		return "", fmt.Errorf("identity: building userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := r.users.Do(req)
	if err != nil {
		return "", apperror.Upstream("identity directory", "validate token", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", apperror.Unauthenticated("invalid or expired token")
	case resp.StatusCode != http.StatusOK:
		return "", apperror.Upstream("identity directory", "validate token", statusError(resp))
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", apperror.Upstream("identity directory", "validate token", err)
	}
	if info.Subject == "" {
		return "", apperror.Unauthenticated("token has no subject")
	}
	return info.Subject, nil
}

// DeleteAccount removes the account from the provider. 404 counts as
// already deleted.
func (r *Remote) DeleteAccount(ctx context.Context, username string) error {
	endpoint := r.base + "/admin/users/" + url.PathEscape(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return fmt.Errorf("identity: building delete request: %w", err)
	}

	resp, err := r.admin.Do(req)
	if err != nil {
		return apperror.Upstream("identity directory", "delete account", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		r.logger.Debug("account already absent from directory", slog.String("username", username))
		return nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	}
	return apperror.Upstream("identity directory", "delete account", statusError(resp))
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
