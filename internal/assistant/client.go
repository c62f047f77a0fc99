package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type (
	// Client talks to an external completion service over HTTP. It
	// satisfies the engine's Replier boundary; when no endpoint is
	// configured the controller's local phrasing is used instead
	Client struct {
		http     *http.Client
		logger   *slog.Logger
		endpoint string
	}

	replyRequest struct {
		Prompt string `json:"prompt"`
	}
)

const maxReplyBytes = 1 << 20

var ErrEmptyReply = errors.New("assistant returned an empty reply")

func NewClient(
	endpoint string, timeout time.Duration, logger *slog.Logger,
) *Client {
	return &Client{
		endpoint: endpoint,
		logger:   logger,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// Reply sends the prompt and returns the completion text
func (c *Client) Reply(ctx context.Context, prompt string) (string, error) {
	raw, err := json.Marshal(replyRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.endpoint, bytes.NewReader(raw),
	)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("assistant request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("assistant response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assistant status %d", resp.StatusCode)
	}
	reply := gjson.GetBytes(body, "reply").String()
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyReply
	}
	c.logger.Debug("assistant reply received",
		slog.Int("chars", len(reply)))
	return reply, nil
}
