// Package telephony places outbound SIP calls through the trunk provider's
// REST API. An unconfigured client is a valid state: the escalation state
// machine falls back to its simulated path.
package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// PlaceRequest describes one outbound call to place.
type PlaceRequest struct {
	ToPhone     string            `json:"sip_call_to"`
	RoomName    string            `json:"room_name"`
	Identity    string            `json:"participant_identity"`
	DisplayName string            `json:"participant_name"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// CallRef identifies a placed call at the provider.
type CallRef struct {
	ParticipantID string `json:"participant_id"`
	RoomName      string `json:"room_name"`
}

// Placer is the outbound call placement collaborator.
type Placer interface {
	Configured() bool
	PlaceCall(ctx context.Context, req PlaceRequest) (CallRef, error)
}

// Client talks to the SIP trunk provider.
type Client struct {
	baseURL    string
	apiKey     string
	trunkID    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient builds a placement client. Any of baseURL, apiKey, or trunkID
// being empty leaves the client unconfigured rather than erroring.
func NewClient(baseURL, apiKey, trunkID string, timeout time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		trunkID:    strings.TrimSpace(trunkID),
		timeout:    timeout,
		httpClient: httpClient,
	}
}

// Configured reports whether the provider credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != "" && c.apiKey != "" && c.trunkID != ""
}

// PlaceCall requests an outbound SIP call. The request is bounded by the
// client's timeout; a timeout surfaces the same way as any provider error.
func (c *Client) PlaceCall(ctx context.Context, req PlaceRequest) (CallRef, error) {
	if !c.Configured() {
		return CallRef{}, fmt.Errorf("telephony provider is not configured")
	}
	if strings.TrimSpace(req.ToPhone) == "" {
		return CallRef{}, fmt.Errorf("target phone is required")
	}

	body, err := json.Marshal(struct {
		PlaceRequest
		TrunkID string `json:"sip_trunk_id"`
	}{PlaceRequest: req, TrunkID: c.trunkID})
	if err != nil {
		return CallRef{}, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sip/participants", bytes.NewReader(body))
	if err != nil {
		return CallRef{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return CallRef{}, fmt.Errorf("place call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		return CallRef{}, fmt.Errorf("trunk provider error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var ref CallRef
	if err := json.NewDecoder(resp.Body).Decode(&ref); err != nil {
		return CallRef{}, fmt.Errorf("decode response: %w", err)
	}
	if ref.RoomName == "" {
		ref.RoomName = req.RoomName
	}
	return ref, nil
}

// NormalizePhone coerces a raw number into international format the trunk
// accepts. It only guarantees the leading plus; digit validation is the
// provider's job.
func NormalizePhone(raw string) string {
	p := strings.TrimSpace(raw)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "+") {
		p = "+" + p
	}
	return p
}
