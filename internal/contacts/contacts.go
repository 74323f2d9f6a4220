// Package contacts talks to the contacts directory and resolves spoken
// recipient names to account ids by fuzzy-matching saved contact labels.
package contacts

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sagebank/orchestrator/internal/httpx"
)

// Contact is one saved directory entry.
type Contact struct {
	Label      string `json:"label"`
	AccountNum string `json:"account_num"`
	RoutingNum string `json:"routing_num"`
	IsExternal bool   `json:"is_external"`
}

// Client calls the contacts directory service.
type Client struct {
	client  *httpx.Client
	baseURL string
}

// NewClient creates a contacts directory client.
func NewClient(client *httpx.Client, baseURL string) *Client {
	return &Client{client: client, baseURL: baseURL}
}

func authHeaders(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// List returns the user's saved contacts.
func (c *Client) List(ctx context.Context, token, username string) ([]Contact, error) {
	resp, err := c.client.Get(ctx, c.baseURL+"/contacts/"+url.PathEscape(username), authHeaders(token))
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	if !resp.OK() {
		return nil, fmt.Errorf("contacts directory returned %d", resp.StatusCode)
	}
	var out []Contact
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode contacts: %w", err)
	}
	return out, nil
}

// Add saves a new contact for the user.
func (c *Client) Add(ctx context.Context, token, username string, contact Contact) error {
	resp, err := c.client.PostJSON(ctx, c.baseURL+"/contacts/"+url.PathEscape(username), contact, authHeaders(token))
	if err != nil {
		return fmt.Errorf("add contact: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("contacts directory returned %d", resp.StatusCode)
	}
	return nil
}
