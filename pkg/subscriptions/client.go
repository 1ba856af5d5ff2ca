// Package subscriptions consumes the external subscription platform as
// a boolean capability (spec §1 Out of Scope: "external subscription
// platform... we consume a boolean is-subscriber capability from it").
// The platform itself is out of scope; this package is just the thin
// client pkg/access needs to satisfy SubscriptionChecker.
package subscriptions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/packforge/distro/pkg/apperr"
	"github.com/packforge/distro/pkg/util/resiliency"
)

// Client calls the external subscription platform's membership check.
type Client struct {
	baseURL string
	apiKey  string
	http    *resiliency.EnhancedClient
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    resiliency.NewEnhancedClientWithConfig("subscriptions", 10*time.Second, 3, 5, 10*time.Second),
	}
}

// IsSubscribedToAny reports whether userID holds an active subscription
// in any of the given channels, satisfying pkg/access.SubscriptionChecker.
func (c *Client) IsSubscribedToAny(ctx context.Context, userID string, channels []string) (bool, error) {
	if len(channels) == 0 {
		return false, nil
	}

	q := url.Values{}
	q.Set("userId", userID)
	for _, ch := range channels {
		q.Add("channel", ch)
	}
	reqURL := fmt.Sprintf("%s/v1/memberships?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return false, apperr.Internal(err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, apperr.Wrap(apperr.KindUpstreamUnavailable, "subscription platform unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return false, apperr.New(apperr.KindUpstreamUnavailable, fmt.Sprintf("subscription platform status %d", resp.StatusCode))
	}

	var body struct {
		Subscribed bool `json:"subscribed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, apperr.Internal(err)
	}
	return body.Subscribed, nil
}
