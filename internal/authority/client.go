// Package authority queries the API tier for a user's role inside a workspace.
package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tacohub/collab-relay/internal/model"
)

const rolePath = "/api/workspaces/%s/users/%s/role"

// RoleSource resolves workspace roles. ok is false when the user has no role.
type RoleSource interface {
	RoleOf(ctx context.Context, workspaceID, userID string) (role model.Role, ok bool, err error)
}

// ClientImpl is the HTTP role authority client.
type ClientImpl struct {
	base    string
	http    *http.Client
	timeout time.Duration
	retries int
}

var _ RoleSource = (*ClientImpl)(nil)

// NewClient constructs a client for the API tier at base (scheme://host[:port]).
func NewClient(base string, timeout time.Duration, hc *http.Client) *ClientImpl {
	if hc == nil {
		hc = &http.Client{}
	}
	return &ClientImpl{
		base:    strings.TrimRight(base, "/"),
		http:    hc,
		timeout: timeout,
		retries: 1,
	}
}

type roleResponse struct {
	Data *struct {
		WorkspaceRole string `json:"workspaceRole"`
	} `json:"data"`
}

// errRetryable marks failures worth one more attempt.
var errRetryable = errors.New("retryable")

// RoleOf fetches the role of userID in workspaceID. A 404 or an empty role means no role.
func (c *ClientImpl) RoleOf(ctx context.Context, workspaceID, userID string) (model.Role, bool, error) {
	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		role, ok, err := c.fetch(ctx, workspaceID, userID)
		if err == nil {
			return role, ok, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			break
		}
	}
	return "", false, lastErr
}

func (c *ClientImpl) fetch(ctx context.Context, workspaceID, userID string) (model.Role, bool, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	u := c.base + fmt.Sprintf(rolePath, url.PathEscape(workspaceID), url.PathEscape(userID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", false, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("role lookup: %w: %w", errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, nil
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, fmt.Errorf("role lookup: %w: status %d", errRetryable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", false, fmt.Errorf("role lookup: status %d", resp.StatusCode)
	}

	var body roleResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", false, fmt.Errorf("role lookup: decode: %w", err)
	}
	if body.Data == nil || body.Data.WorkspaceRole == "" {
		return "", false, nil
	}
	role := model.Role(strings.ToUpper(body.Data.WorkspaceRole))
	if !role.Valid() {
		return "", false, fmt.Errorf("role lookup: unknown role %q", body.Data.WorkspaceRole)
	}
	return role, true, nil
}
