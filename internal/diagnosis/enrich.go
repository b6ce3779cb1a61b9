package diagnosis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/maintwatch/pdm-engine/internal/models"
)

// EnrichmentClient calls the externally-hosted generative-text service for
// cause analysis. Every request carries the configured timeout so a slow or
// absent service degrades to the rule-pack fallback instead of stalling a
// scoring cycle.
type EnrichmentClient struct {
	http *resty.Client
}

// NewEnrichmentClient builds a client for the given base URL.
func NewEnrichmentClient(baseURL string, timeout time.Duration) *EnrichmentClient {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)
	return &EnrichmentClient{http: client}
}

type enrichmentRequest struct {
	Message        string `json:"message"`
	Severity       int    `json:"severity"`
	AlertType      string `json:"alert_type"`
	DeviceType     string `json:"device_type"`
	DeviceLocation string `json:"device_location"`
	DeviceStatus   string `json:"device_status"`
}

type enrichmentResponse struct {
	Causes    []string       `json:"causes"`
	RootCause string         `json:"root_cause"`
	Resources map[string]int `json:"resources"`
}

// Analyze implements Enricher.
func (c *EnrichmentClient) Analyze(ctx context.Context, alert models.Alert, device models.Device) (models.Diagnosis, error) {
	var out enrichmentResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(enrichmentRequest{
			Message:        alert.Message,
			Severity:       alert.Severity,
			AlertType:      alert.AlertType,
			DeviceType:     device.Type,
			DeviceLocation: device.Location,
			DeviceStatus:   string(device.Status),
		}).
		SetResult(&out).
		Post("/v1/diagnose")
	if err != nil {
		return models.Diagnosis{}, fmt.Errorf("enrichment request: %w", err)
	}
	if resp.IsError() {
		return models.Diagnosis{}, fmt.Errorf("enrichment request: status %s", resp.Status())
	}
	return models.Diagnosis{
		Causes:    out.Causes,
		RootCause: out.RootCause,
		Resources: out.Resources,
	}, nil
}
