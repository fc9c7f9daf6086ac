package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/piko/internal/identity"
	"github.com/starford/piko/internal/models"
	"github.com/starford/piko/internal/store"
)

// MintToken signs a bearer token for userID with the configured JWT settings.
func MintToken(cfg *Config, userID string) (string, error) {
	if cfg.Auth.Mode != identity.ModeJWT {
		return "", fmt.Errorf("auth mode is %q, tokens need %q", cfg.Auth.Mode, identity.ModeJWT)
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id is required")
	}
	j, err := identity.NewJWT(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.TTL)
	if err != nil {
		return "", err
	}
	return j.Mint(userID)
}

// Grant writes a membership row straight to the database, bypassing the
// owner check the API applies.
func Grant(ctx context.Context, cfg *Config, projectID, userID string, role models.Role) error {
	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()

	if _, err := db.Project(ctx, projectID); err != nil {
		return fmt.Errorf("project %s: %w", projectID, err)
	}
	return db.PutMember(ctx, projectID, userID, role)
}
