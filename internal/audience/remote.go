package audience

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type phonesRequest struct {
	Jurisdictions     []string `json:"jurisdictions"`
	IncludeUnassigned bool     `json:"includeUnassigned"`
}

type phonesResponse struct {
	Phones []string `json:"phones"`
}

// RemoteDirectory resolves phones from a directory service over HTTP.
type RemoteDirectory struct {
	httpClient        *resty.Client
	includeUnassigned bool
	logger            *zap.Logger
}

// NewRemoteDirectory creates a resolver for the directory at baseURL.
func NewRemoteDirectory(baseURL string, timeout time.Duration, includeUnassigned bool, logger *zap.Logger) *RemoteDirectory {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RemoteDirectory{
		httpClient:        client,
		includeUnassigned: includeUnassigned,
		logger:            logger,
	}
}

// ResolvePhones implements Resolver
func (d *RemoteDirectory) ResolvePhones(ctx context.Context, c Criteria) ([]string, error) {
	req := phonesRequest{
		Jurisdictions:     make([]string, 0, len(c.Jurisdictions)),
		IncludeUnassigned: d.includeUnassigned,
	}
	for _, id := range c.Jurisdictions {
		req.Jurisdictions = append(req.Jurisdictions, id.String())
	}

	var out phonesResponse
	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/phones")
	if err != nil {
		return nil, fmt.Errorf("call directory: %w", err)
	}

	if resp.IsError() {
		d.logger.Warn("directory returned error",
			zap.String("url", resp.Request.URL),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, fmt.Errorf("directory returned %s", resp.Status())
	}

	if out.Phones == nil {
		out.Phones = []string{}
	}
	return out.Phones, nil
}
