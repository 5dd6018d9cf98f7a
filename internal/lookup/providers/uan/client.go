// Package uan is the client for the asynchronous UAN lookup provider. The
// provider either answers immediately or accepts the job and completes it
// later, by callback or by status poll.
package uan

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/providers"
)

const ProviderID = "uan"

const (
	MethodMobile = "mobile"
	MethodPAN    = "pan"
)

const (
	statusCompleted = "completed"
	statusPending   = "pending"
)

// Transport is the JSON transport used to reach the provider.
type Transport interface {
	PostJSON(ctx context.Context, path string, in, out any) error
	GetJSON(ctx context.Context, path string, out any) error
}

type lookupRequest struct {
	LookupMethod    string `json:"lookupMethod"`
	LookupValue     string `json:"lookupValue"`
	CandidateID     string `json:"candidateId"`
	OrganizationID  string `json:"organizationId"`
	UserID          string `json:"userId"`
	CandidateMobile string `json:"candidateMobile,omitempty"`
	TransactionID   string `json:"transactionId"`
}

// Response is the provider's answer to a lookup or a status poll.
type Response struct {
	Status     string          `json:"status"`
	StatusCode *int            `json:"statusCode,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	Message    string          `json:"message,omitempty"`
	JobID      string          `json:"jobId,omitempty"`
}

type Client struct {
	transport Transport
	metrics   *metrics.Metrics
}

func New(transport Transport, m *metrics.Metrics) *Client {
	return &Client{transport: transport, metrics: m}
}

func (c *Client) ID() string {
	return ProviderID
}

func (c *Client) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Protocol: providers.ProtocolHTTP,
		Types: []models.LookupType{
			models.LookupMobile,
			models.LookupMobileToUAN,
			models.LookupPAN,
			models.LookupPANToUAN,
		},
		Version:  "v1",
		Deferred: true,
	}
}

// Method maps a lookup type to the provider's lookup method.
func Method(t models.LookupType) string {
	if t.IsMobile() {
		return MethodMobile
	}
	return MethodPAN
}

func (c *Client) Execute(ctx context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
	req := lookupRequest{
		LookupMethod:   Method(call.LookupType),
		LookupValue:    call.Value,
		CandidateID:    call.CandidateID,
		OrganizationID: call.OrganizationID,
		UserID:         call.UserID,
		TransactionID:  call.TransactionID,
	}
	if req.LookupMethod == MethodPAN {
		req.CandidateMobile = call.CandidateMobile
	}

	start := time.Now()
	var resp Response
	if err := c.transport.PostJSON(ctx, "/lookups", req, &resp); err != nil {
		c.metrics.ObserveProviderLatency(ProviderID, "error", time.Since(start))
		return nil, err
	}
	answer, err := resp.Answer()
	c.metrics.ObserveProviderLatency(ProviderID, resultLabel(answer, err), time.Since(start))
	return answer, err
}

// Poll asks the provider for the state of a deferred job.
func (c *Client) Poll(ctx context.Context, jobID string) (*models.ProviderAnswer, error) {
	var resp Response
	if err := c.transport.GetJSON(ctx, "/lookups/"+url.PathEscape(jobID), &resp); err != nil {
		return nil, err
	}
	if resp.JobID == "" {
		resp.JobID = jobID
	}
	return resp.Answer()
}

// Answer normalizes the response. A completed answer without a status code
// is a success when it carries data and a not-found otherwise.
func (r Response) Answer() (*models.ProviderAnswer, error) {
	switch strings.ToLower(r.Status) {
	case statusCompleted:
		code := models.StatusNotFound
		if hasData(r.Data) {
			code = models.StatusSuccess
		}
		if r.StatusCode != nil {
			code = *r.StatusCode
		}
		answer := &models.ProviderAnswer{StatusCode: code, Message: r.Message}
		if hasData(r.Data) {
			answer.Data = r.Data
		}
		return answer, nil
	case statusPending:
		return &models.ProviderAnswer{
			Deferred:      true,
			ProviderJobID: r.JobID,
			Message:       r.Message,
		}, nil
	default:
		message := r.Message
		if message == "" {
			message = "lookup failed with status " + r.Status
		}
		return nil, providers.NewProviderError(providers.ErrorRejected, ProviderID, message, nil)
	}
}

func hasData(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

func resultLabel(answer *models.ProviderAnswer, err error) string {
	switch {
	case err != nil:
		return "error"
	case answer.Deferred:
		return "deferred"
	default:
		return "ok"
	}
}
