package inbound

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Outbound-Project/outbound-bot/core"
)

const (
	HeaderChannelID     = "X-Goog-Channel-ID"
	HeaderChannelToken  = "X-Goog-Channel-Token"
	HeaderResourceID    = "X-Goog-Resource-ID"
	HeaderResourceState = "X-Goog-Resource-State"
	HeaderMessageNumber = "X-Goog-Message-Number"
)

// Verifier checks the shared channel token on incoming notifications.
// Verification is fail-closed: no configured token rejects everything
// unless the insecure override was set explicitly at startup.
type Verifier struct {
	token         string
	header        string
	allowInsecure bool
}

func NewVerifier(cfg core.WebhookConfig) *Verifier {
	header := strings.TrimSpace(cfg.TokenHeader)
	if header == "" {
		header = HeaderChannelToken
	}
	return &Verifier{
		token:         strings.TrimSpace(cfg.Token),
		header:        header,
		allowInsecure: cfg.AllowInsecure,
	}
}

func (v *Verifier) Verify(_ context.Context, headers http.Header) error {
	if v == nil {
		return inboundAuthError("inbound: verifier is not configured", nil)
	}
	if v.token == "" {
		if v.allowInsecure {
			return nil
		}
		return inboundAuthError("inbound: channel token is not configured", nil)
	}
	presented := strings.TrimSpace(headers.Get(v.header))
	if presented == "" {
		return inboundAuthError("inbound: channel token is missing", map[string]any{
			"header": v.header,
		})
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(v.token)) != 1 {
		return inboundAuthError("inbound: channel token mismatch", map[string]any{
			"header": v.header,
		})
	}
	return nil
}

// ParseNotification maps the provider push headers onto a change event.
// Drive-style notifications carry everything in headers; the body is
// empty and ignored.
func ParseNotification(headers http.Header, receivedAt time.Time) (core.ChangeEvent, error) {
	state := strings.TrimSpace(headers.Get(HeaderResourceState))
	if state == "" {
		return core.ChangeEvent{}, inboundBadInput("inbound: resource state header is required", map[string]any{
			"header": HeaderResourceState,
		})
	}
	event := core.ChangeEvent{
		ChannelID:     strings.TrimSpace(headers.Get(HeaderChannelID)),
		ResourceID:    strings.TrimSpace(headers.Get(HeaderResourceID)),
		ResourceState: state,
		ReceivedAt:    receivedAt,
	}
	if raw := strings.TrimSpace(headers.Get(HeaderMessageNumber)); raw != "" {
		if number, err := strconv.ParseInt(raw, 10, 64); err == nil {
			event.MessageNumber = number
		}
	}
	if !event.Handshake() && event.ResourceID == "" {
		return core.ChangeEvent{}, inboundBadInput("inbound: resource id header is required", map[string]any{
			"header": HeaderResourceID,
		})
	}
	return event, nil
}
