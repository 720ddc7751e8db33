package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rickgao/realtime-client/internal/auth"
)

// ErrEmptyAccessToken is returned when a refresh succeeds without a token.
var ErrEmptyAccessToken = errors.New("refresh response has no access token")

// RefreshToken exchanges a refresh token for a new token pair. The request is
// unauthenticated. Client satisfies auth.Refresher.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (auth.Tokens, error) {
	var resp RefreshResponse
	if err := c.post(ctx, "/auth/refresh", RefreshRequest{RefreshToken: refreshToken}, false, &resp); err != nil {
		return auth.Tokens{}, fmt.Errorf("refresh token: %w", err)
	}
	if resp.AccessToken == "" {
		return auth.Tokens{}, ErrEmptyAccessToken
	}
	return auth.Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken}, nil
}

// ListChannelsPage fetches one page of the current user's channels.
func (c *Client) ListChannelsPage(ctx context.Context, cursor string, limit int) (*ChannelsResponse, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	var resp ChannelsResponse
	if err := c.get(ctx, "/me/channels", query, &resp); err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	return &resp, nil
}

// ListMyChannels fetches every channel the current user belongs to by
// paginating through results.
func (c *Client) ListMyChannels(ctx context.Context) ([]Channel, error) {
	var all []Channel
	cursor := ""

	for {
		resp, err := c.ListChannelsPage(ctx, cursor, 200)
		if err != nil {
			return nil, err
		}

		all = append(all, resp.Channels...)

		if resp.Cursor == "" || resp.Cursor == cursor {
			break
		}
		cursor = resp.Cursor
	}

	return all, nil
}

// ChannelIDs returns the IDs of channels in order.
func ChannelIDs(channels []Channel) []string {
	ids := make([]string, 0, len(channels))
	for _, ch := range channels {
		ids = append(ids, ch.ID)
	}
	return ids
}

var _ auth.Refresher = (*Client)(nil)
