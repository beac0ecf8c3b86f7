package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emberwood/driver/internal/permissions"
	"github.com/emberwood/driver/internal/session"
)

// adminToken self-issues a short-lived admin JWT from the operator's own
// copy of the signing key, since whoever holds the key can already act as
// an administrator.
func adminToken(adminKeyPEM string) (string, error) {
	if adminKeyPEM == "" {
		return "", fmt.Errorf("--admin-key (or DRIVER_ADMIN_KEY) is required")
	}
	key, err := session.ParseAdminKey(adminKeyPEM)
	if err != nil {
		return "", err
	}
	token, _, err := session.IssueAdminJWT(key, "driverctl", int(permissions.Administrator), time.Minute)
	return token, err
}

func adminGet(baseURL, adminKeyPEM, path string, out any) error {
	token, err := adminToken(adminKeyPEM)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return doAdminRequest(req, out)
}

func adminPost(baseURL, adminKeyPEM, path string, body, out any) error {
	token, err := adminToken(adminKeyPEM)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	return doAdminRequest(req, out)
}

func doAdminRequest(req *http.Request, out any) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request driver: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("driver returned %s: %s", resp.Status, bytes.TrimSpace(data))
	}
	return json.Unmarshal(data, out)
}
