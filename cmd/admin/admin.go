package admin

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client drives the operator surface of a running trader daemon.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(10 * time.Second).
			SetHeader("Content-Type", "application/json"),
	}
}

type stateResponse struct {
	State string `json:"state"`
	Error string `json:"error"`
}

func (c *Client) State() (string, error) {
	var out stateResponse
	resp, err := c.http.R().SetResult(&out).SetError(&out).Get("/state")
	return out.State, c.check(resp, err, out.Error)
}

func (c *Client) Transition(to, reason, actor string) (string, error) {
	return c.post("/state/transition", map[string]string{
		"to":     to,
		"reason": reason,
		"actor":  actor,
	})
}

func (c *Client) ConfirmLive(reason, actor string) (string, error) {
	return c.post("/state/confirm-live", map[string]string{
		"reason": reason,
		"actor":  actor,
	})
}

func (c *Client) RestoreSafeMode(reason, actor string) (string, error) {
	return c.post("/state/restore-safe-mode", map[string]string{
		"reason": reason,
		"actor":  actor,
	})
}

func (c *Client) SetUnwind(accountID uint, active bool, reason, actor string) error {
	var out stateResponse
	resp, err := c.http.R().
		SetBody(map[string]interface{}{
			"active": active,
			"reason": reason,
			"actor":  actor,
		}).
		SetError(&out).
		Post(fmt.Sprintf("/accounts/%d/unwind", accountID))
	return c.check(resp, err, out.Error)
}

func (c *Client) post(path string, body map[string]string) (string, error) {
	var out stateResponse
	resp, err := c.http.R().SetBody(body).SetResult(&out).SetError(&out).Post(path)
	return out.State, c.check(resp, err, out.Error)
}

func (c *Client) check(resp *resty.Response, err error, apiError string) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		if apiError != "" {
			return fmt.Errorf("%s: %s", resp.Status(), apiError)
		}
		return fmt.Errorf("%s", resp.Status())
	}
	return nil
}
