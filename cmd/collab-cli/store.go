package main

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tacohub/collab-relay/internal/service"
)

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	UserID      string    `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "collab-relay")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "collab-relay")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (tokenFile, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return tokenFile{}, err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return tokenFile{}, errors.New("no valid token (run login or mint first)")
	}
	return tf, nil
}

// inspectToken reads user id and expiry without verifying the signature; the relay verifies.
func inspectToken(tok string) (tokenFile, error) {
	var claims service.Claims
	_, _, err := jwt.NewParser().ParseUnverified(tok, &claims)
	if err != nil {
		return tokenFile{}, err
	}
	tf := tokenFile{AccessToken: tok, UserID: claims.UserID, ExpiresAt: time.Now().Add(15 * time.Minute)}
	if tf.UserID == "" {
		tf.UserID = claims.Subject
	}
	if claims.ExpiresAt != nil {
		tf.ExpiresAt = claims.ExpiresAt.Time
	}
	if tf.UserID == "" {
		return tokenFile{}, errors.New("token carries no user id")
	}
	return tf, nil
}
