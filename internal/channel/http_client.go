package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/unclebandit/dispatch-engine/internal/model"
)

// HTTPClient posts messages as JSON to the provider gateway at
// {BaseURL}/instances/{id}/messages (or /status for status posts).
type HTTPClient struct {
	BaseURL   string
	Token     string
	HTTP      *http.Client
	Instances InstanceLookup
}

var _ Client = (*HTTPClient)(nil)

func NewHTTPClient(baseURL, token string, timeout time.Duration, instances InstanceLookup) *HTTPClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPClient{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		Token:     token,
		HTTP:      &http.Client{Timeout: timeout},
		Instances: instances,
	}
}

type wireTarget struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

type wireMessage struct {
	To       []wireTarget `json:"to"`
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	MediaRef string       `json:"media_ref,omitempty"`
}

func (c *HTTPClient) ConnectedInstance(ctx context.Context, ownerID string) (*model.ChannelInstance, error) {
	return c.Instances.ConnectedInstance(ctx, ownerID)
}

func (c *HTTPClient) Send(ctx context.Context, msg Message) (Receipt, error) {
	payload := wireMessage{Type: string(msg.Kind), Text: msg.Text}
	for _, t := range msg.To {
		payload.To = append(payload.To, wireTarget{Address: t.Address, Name: t.Name})
	}
	if msg.MediaRef != nil {
		payload.MediaRef = *msg.MediaRef
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return Receipt{}, err
	}

	path := "/messages"
	if msg.Status {
		path = "/status"
	}
	url := c.BaseURL + "/instances/" + msg.InstanceID + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return Receipt{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if msg.CredentialRef != "" {
		req.Header.Set("X-Instance-Credential", msg.CredentialRef)
	}

	client := c.HTTP
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Receipt{}, err
	}
	defer resp.Body.Close()

	var out struct {
		ID      string `json:"id"`
		Success *bool  `json:"success"`
		Error   string `json:"error"`
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode/100 != 2 {
		if out.Error != "" {
			return Receipt{}, fmt.Errorf("channel send failed: %s (http=%d)", out.Error, resp.StatusCode)
		}
		return Receipt{}, fmt.Errorf("channel send failed: http=%d", resp.StatusCode)
	}
	// Some gateways answer 2xx and report the rejection in the body.
	if out.Error != "" {
		return Receipt{}, fmt.Errorf("channel send failed: %s", out.Error)
	}
	if out.Success != nil && !*out.Success {
		return Receipt{}, fmt.Errorf("channel send failed: provider reported success=false")
	}
	return Receipt{MessageID: out.ID}, nil
}
