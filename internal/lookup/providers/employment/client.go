// Package employment is the client for the UAN full-history provider, which
// lists every establishment a UAN has been employed at.
package employment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/providers"
)

const ProviderID = "employment"

// Transport is the JSON transport used to reach the provider.
type Transport interface {
	PostJSON(ctx context.Context, path string, in, out any) error
}

type historyRequest struct {
	UAN            string `json:"uan"`
	EmployerName   string `json:"employerName"`
	CandidateID    string `json:"candidateId"`
	OrganizationID string `json:"organizationId"`
	TransactionID  string `json:"transactionId"`
}

type historyResponse struct {
	Status *int            `json:"status"`
	Msg    json.RawMessage `json:"msg"`
}

// History is the structured msg of a successful answer.
type History struct {
	Employers []Employer `json:"employers"`
}

type Employer struct {
	EstablishmentName   string   `json:"establishment_name"`
	DateOfJoining       string   `json:"date_of_joining"`
	DateOfExit          string   `json:"date_of_exit"`
	Overlap             flexBool `json:"overlap"`
	MemberID            string   `json:"member_id"`
	Name                string   `json:"name"`
	FatherOrHusbandName string   `json:"father_or_husband_name"`
}

// flexBool accepts true/false as well as "Yes"/"No" style strings.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	var v bool
	if err := json.Unmarshal(data, &v); err == nil {
		*b = flexBool(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("overlap: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
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
		Types:    []models.LookupType{models.LookupUANFullHistory},
		Version:  "v1",
	}
}

func (c *Client) Execute(ctx context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
	start := time.Now()
	var resp historyResponse
	err := c.transport.PostJSON(ctx, "/uan/history", historyRequest{
		UAN:            call.Value,
		EmployerName:   call.EmployerName,
		CandidateID:    call.CandidateID,
		OrganizationID: call.OrganizationID,
		TransactionID:  call.TransactionID,
	}, &resp)
	if err != nil {
		c.metrics.ObserveProviderLatency(ProviderID, "error", time.Since(start))
		return nil, err
	}
	answer, err := resp.answer()
	if err != nil {
		c.metrics.ObserveProviderLatency(ProviderID, "error", time.Since(start))
		return nil, err
	}
	c.metrics.ObserveProviderLatency(ProviderID, "ok", time.Since(start))
	return answer, nil
}

func (r historyResponse) answer() (*models.ProviderAnswer, error) {
	status := 0
	if r.Status != nil {
		status = *r.Status
	}
	var history History
	structured := json.Unmarshal(r.Msg, &history) == nil && isObject(r.Msg)
	text := msgText(r.Msg)

	switch {
	case status == models.StatusSuccess && structured:
		return &models.ProviderAnswer{StatusCode: status, Data: r.Msg}, nil
	case status == models.StatusNotFound:
		return &models.ProviderAnswer{StatusCode: status, Message: text}, nil
	default:
		if text == "" {
			text = fmt.Sprintf("employment history failed with status %d", status)
		}
		return nil, providers.NewProviderError(providers.ErrorRejected, ProviderID, text, nil)
	}
}

// ParseEmployers maps a successful answer's data into dual-employment results.
func ParseEmployers(data json.RawMessage) ([]models.DualEmploymentResult, error) {
	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("decode employment history: %w", err)
	}
	results := make([]models.DualEmploymentResult, 0, len(history.Employers))
	for _, e := range history.Employers {
		exit := strings.TrimSpace(e.DateOfExit)
		if exit == "" {
			exit = models.CurrentlyEmployed
		}
		results = append(results, models.DualEmploymentResult{
			EstablishmentName: e.EstablishmentName,
			JoinDate:          e.DateOfJoining,
			ExitDate:          exit,
			Overlap:           bool(e.Overlap),
			MemberID:          e.MemberID,
			Name:              e.Name,
			GuardianName:      e.FatherOrHusbandName,
		})
	}
	return results, nil
}

func isObject(raw json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(raw)), "{")
}

func msgText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}
