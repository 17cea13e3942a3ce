package partner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"login-management-go/internal/logger"
	"login-management-go/internal/observability"
)

// ErrPartnerAPI marks a failed partner call when a Result is turned into an error
var ErrPartnerAPI = errors.New("partner api call failed")

const apiPrefix = "partner-management/v1"

// Result is the outcome of a partner call. Data carries the operation
// specific payload (a uuid, a new password or the raw response body).
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// Err returns nil on success, otherwise an error wrapping ErrPartnerAPI
func (r Result) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPartnerAPI, r.Message)
}

// TokenSource hands out bearer tokens and accepts invalidation after a rejected call
type TokenSource interface {
	GetValidToken(ctx context.Context) (string, error)
	Invalidate()
}

// Config holds the partner management API settings
type Config struct {
	BaseURL       string
	PartnerUUID   string
	UserProfileID int
	History       string
	Timeout       time.Duration
}

// Client calls the partner management API
type Client struct {
	config     Config
	tokens     TokenSource
	httpClient *http.Client
	metrics    *observability.Metrics
}

type createUserRequest struct {
	PersonCode    string `json:"personCode"`
	UserProfileID int    `json:"userProfileId"`
	PartnerUUID   string `json:"partnerUuid"`
}

type blockRequest struct {
	PartnerUUID string `json:"partnerUuid"`
	History     string `json:"history"`
}

type createGroupRequest struct {
	Name               string `json:"name"`
	Label              string `json:"label"`
	PartnerExternalKey string `json:"partnerExternalKey"`
}

type addUserRequest struct {
	UserUUID string `json:"userUuid"`
}

type uuidResponse struct {
	UUID string `json:"uuid"`
}

type unblockResponse struct {
	NewPassword string `json:"newPassword"`
}

// NewClient creates a partner API client
func NewClient(cfg Config, tokens TokenSource, metrics *observability.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if metrics == nil {
		metrics = observability.Noop()
	}
	return &Client{
		config:     cfg,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics,
	}
}

// CreateUser registers a user for the partner. Data is the new user uuid.
func (c *Client) CreateUser(ctx context.Context, userCode string) Result {
	body := createUserRequest{
		PersonCode:    userCode,
		UserProfileID: c.config.UserProfileID,
		PartnerUUID:   c.config.PartnerUUID,
	}
	res, raw := c.post(ctx, "create_user", body, "users")
	if !res.Success {
		return res
	}
	return uuidResult(res, raw, "user created")
}

// BlockUser blocks the partner user. Data is the raw response body.
func (c *Client) BlockUser(ctx context.Context, externalKey string) Result {
	body := blockRequest{PartnerUUID: c.config.PartnerUUID, History: c.config.History}
	res, raw := c.post(ctx, "block_user", body, "users", externalKey, "block")
	if !res.Success {
		return res
	}
	return Result{Success: true, Message: "user blocked", Data: string(raw)}
}

// UnblockUser unblocks the partner user. Data is the new password, possibly empty.
func (c *Client) UnblockUser(ctx context.Context, externalKey string) Result {
	body := blockRequest{PartnerUUID: c.config.PartnerUUID, History: c.config.History}
	res, raw := c.post(ctx, "unblock_user", body, "users", externalKey, "unblock")
	if !res.Success {
		return res
	}
	var ur unblockResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &ur); err != nil {
			logger.Component("partner").Warnf("Unblock response for %s is not JSON: %v", externalKey, err)
		}
	}
	return Result{Success: true, Message: "user unblocked", Data: ur.NewPassword}
}

// CreateGroup creates a partner group; name doubles as label. Data is the new group uuid.
func (c *Client) CreateGroup(ctx context.Context, name, originKey string) Result {
	body := createGroupRequest{Name: name, Label: name, PartnerExternalKey: originKey}
	res, raw := c.post(ctx, "create_group", body, "groups")
	if !res.Success {
		return res
	}
	return uuidResult(res, raw, "group created")
}

// AddUserToGroup links a user to a group. Data is the raw response body.
func (c *Client) AddUserToGroup(ctx context.Context, groupUUID, userUUID string) Result {
	res, raw := c.post(ctx, "add_user_to_group", addUserRequest{UserUUID: userUUID}, "groups", groupUUID, "users")
	if !res.Success {
		return res
	}
	return Result{Success: true, Message: "user linked to group", Data: string(raw)}
}

func uuidResult(res Result, raw []byte, message string) Result {
	var ur uuidResponse
	if err := json.Unmarshal(raw, &ur); err != nil || strings.TrimSpace(ur.UUID) == "" {
		return Result{Success: false, Message: "invalid response: missing uuid"}
	}
	return Result{Success: true, Message: message, Data: ur.UUID}
}

// post performs an authenticated JSON POST. On failure the returned Result
// carries the message and the raw body is nil.
func (c *Client) post(ctx context.Context, operation string, payload any, path ...string) (Result, []byte) {
	callLog := logger.Component("partner").WithField("operation", operation)

	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		c.metrics.RecordPartnerCall(ctx, operation, 0, false)
		return Result{Success: false, Message: "auth: " + err.Error()}, nil
	}

	endpoint, err := url.JoinPath(c.config.BaseURL, append([]string{apiPrefix}, path...)...)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("failed to create API URL: %v", err)}, nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("failed to encode request: %v", err)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Success: false, Message: fmt.Sprintf("failed to create request: %v", err)}, nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	callLog.Debugf("POST %s", endpoint)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordPartnerCall(ctx, operation, 0, false)
		callLog.Errorf("Partner request failed: %v", err)
		return Result{Success: false, Message: fmt.Sprintf("request failed: %v", err)}, nil
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.RecordPartnerCall(ctx, operation, resp.StatusCode, false)
		return Result{Success: false, Message: fmt.Sprintf("failed to read response (status %d): %v", resp.StatusCode, err)}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.RecordPartnerCall(ctx, operation, resp.StatusCode, false)
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			callLog.Warn("Partner rejected the token, invalidating")
			c.tokens.Invalidate()
		}
		callLog.Errorf("Partner call failed (status %d): %s", resp.StatusCode, string(raw))
		return Result{Success: false, Message: fmt.Sprintf("status %d: %s", resp.StatusCode, string(raw))}, nil
	}

	c.metrics.RecordPartnerCall(ctx, operation, resp.StatusCode, true)
	return Result{Success: true}, raw
}
