// Package omero talks to an OMERO image repository through its web JSON API
// and its command-line importer.
package omero

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/imcf/image-tools/internal/config"
)

var (
	// ErrNotConnected is returned by calls on a closed client.
	ErrNotConnected = errors.New("not connected to OMERO")

	// ErrNotFound is returned when the server has no object with the given ID.
	ErrNotFound = errors.New("object not found")
)

// NSClientMapAnnotation is the namespace of key-value pairs editable in the
// web client.
const NSClientMapAnnotation = "openmicroscopy.org/omero/client/mapAnnotation"

const defaultTimeout = 60 * time.Second

// EventContext describes the logged-in session.
type EventContext struct {
	UserID      int64  `json:"userId"`
	UserName    string `json:"userName"`
	GroupID     int64  `json:"groupId"`
	GroupName   string `json:"groupName"`
	SessionUUID string `json:"sessionUuid"`
}

// Client is a logged-in web API session. It is not safe for concurrent use.
type Client struct {
	http    *resty.Client
	log     zerolog.Logger
	cfg     config.Omero
	session EventContext
	open    bool
}

type tokenResponse struct {
	Data string `json:"data"`
}

type serversResponse struct {
	Data []struct {
		ID   int    `json:"id"`
		Host string `json:"host"`
		Port int    `json:"port"`
	} `json:"data"`
}

type loginResponse struct {
	Success      bool         `json:"success"`
	EventContext EventContext `json:"eventContext"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// BaseURL returns the web server URL for cfg.Host. A bare host name gets
// https, or http when Secure is false.
func BaseURL(cfg config.Omero) string {
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	if cfg.Secure {
		return "https://" + host
	}
	return "http://" + host
}

// Connect logs in with the credentials in cfg. Username and password are
// trimmed of surrounding whitespace.
func Connect(ctx context.Context, cfg config.Omero, log zerolog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, fmt.Errorf("no OMERO host configured")
	}
	base := BaseURL(cfg)

	c := &Client{
		http: resty.New().
			SetBaseURL(base).
			SetTimeout(defaultTimeout).
			SetHeader("Referer", base+"/").
			SetHeader("Accept", "application/json"),
		log: log.With().Str("server", base).Logger(),
		cfg: cfg,
	}

	var token tokenResponse
	if _, err := c.get(ctx, "/api/v0/token/", nil, &token); err != nil {
		return nil, fmt.Errorf("failed to get CSRF token: %w", err)
	}
	c.http.SetHeader("X-CSRFToken", token.Data)

	serverID := 1
	var servers serversResponse
	if _, err := c.get(ctx, "/api/v0/servers/", nil, &servers); err == nil && len(servers.Data) > 0 {
		serverID = servers.Data[0].ID
	}

	var login loginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"username": strings.TrimSpace(cfg.Username),
			"password": strings.TrimSpace(cfg.Password),
			"server":   fmt.Sprint(serverID),
		}).
		SetResult(&login).
		SetError(&errorResponse{}).
		Post("/api/v0/login/")
	if err != nil {
		return nil, fmt.Errorf("login request failed: %w", err)
	}
	if resp.IsError() || !login.Success {
		return nil, fmt.Errorf("login as %q failed: %w", cfg.Username, responseError(resp))
	}

	c.session = login.EventContext
	c.open = true
	c.log.Info().
		Str("user", c.session.UserName).
		Int64("group", c.session.GroupID).
		Msg("connected to OMERO")
	return c, nil
}

// Session returns the event context of the login.
func (c *Client) Session() EventContext {
	return c.session
}

// Close logs out. Calling Close on a closed client is a no-op.
func (c *Client) Close(ctx context.Context) error {
	if !c.open {
		return nil
	}
	c.open = false
	resp, err := c.http.R().SetContext(ctx).Post("/webclient/logout/")
	if err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	// The logout view redirects to the login page.
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("logout failed: %w", responseError(resp))
	}
	c.log.Debug().Msg("disconnected from OMERO")
	return nil
}

func (c *Client) get(ctx context.Context, path string, query map[string]string, result interface{}) (*resty.Response, error) {
	req := c.http.R().SetContext(ctx).SetResult(result).SetError(&errorResponse{})
	if query != nil {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return resp, responseError(resp)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, form map[string]string, result interface{}) (*resty.Response, error) {
	if !c.open {
		return nil, ErrNotConnected
	}
	req := c.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetError(&errorResponse{})
	if result != nil {
		req.SetResult(result)
	}
	resp, err := req.Post(path)
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return resp, responseError(resp)
	}
	return resp, nil
}

// getJSON is get for calls that need a session.
func (c *Client) getJSON(ctx context.Context, path string, query map[string]string, result interface{}) error {
	if !c.open {
		return ErrNotConnected
	}
	_, err := c.get(ctx, path, query, result)
	return err
}

func responseError(resp *resty.Response) error {
	if resp.StatusCode() == http.StatusNotFound {
		return ErrNotFound
	}
	msg := ""
	if e, ok := resp.Error().(*errorResponse); ok && e != nil {
		msg = e.Message
	}
	if msg == "" {
		msg = strings.TrimSpace(resp.String())
		if len(msg) > 200 {
			msg = msg[:200]
		}
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode(), msg)
}
