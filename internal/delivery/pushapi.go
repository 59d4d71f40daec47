package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"tremor/internal/config"
	"tremor/internal/logger"
	apperrors "tremor/pkg/errors"
)

// PushAPI is the outbound chat surface: send text or an image to a group.
type PushAPI interface {
	SendGroupText(ctx context.Context, groupID, text string) error
	SendGroupImage(ctx context.Context, groupID string, image []byte) error
}

// Client talks to the OneBot-style push endpoint. All sends share one rate
// limiter so a burst of eligible groups cannot flood the chat host.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  logger.Logger
}

func NewClient(cfg config.PushConfig, log logger.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), cfg.Burst),
		logger:  log,
	}
}

type imageSegment struct {
	Type string            `json:"type"`
	Data map[string]string `json:"data"`
}

func (c *Client) SendGroupText(ctx context.Context, groupID, text string) error {
	return c.post(ctx, "/send_group_msg", map[string]interface{}{
		"group_id": groupIDValue(groupID),
		"message":  text,
	})
}

func (c *Client) SendGroupImage(ctx context.Context, groupID string, image []byte) error {
	segment := imageSegment{
		Type: "image",
		Data: map[string]string{
			"file": "base64://" + base64.StdEncoding.EncodeToString(image),
		},
	}
	return c.post(ctx, "/send_group_msg", map[string]interface{}{
		"group_id": groupIDValue(groupID),
		"message":  []imageSegment{segment},
	})
}

func (c *Client) post(ctx context.Context, path string, payload interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return apperrors.ErrTimeout.WithCause(err).AsFatal()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return apperrors.ErrInternal.WithCause(err).AsFatal()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return apperrors.ErrInternal.WithCause(err).AsFatal()
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.ErrUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if appErr := apperrors.FromHTTPStatus(resp.StatusCode, string(respBody)); appErr != nil {
		return appErr
	}
	return nil
}

// groupIDValue keeps numeric group ids numeric on the wire, the way the chat
// host expects them.
func groupIDValue(groupID string) interface{} {
	if n, err := strconv.ParseInt(groupID, 10, 64); err == nil {
		return n
	}
	return groupID
}

// FetchImage downloads a source-published image, for payloads that carry
// their own rendered picture.
func (c *Client) FetchImage(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 16<<20))
}
