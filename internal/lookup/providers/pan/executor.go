package pan

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"verigate/internal/lookup/metrics"
	"verigate/internal/lookup/models"
	"verigate/internal/lookup/providers"
)

const ProviderID = "pan"

// Executor serves PAN document checks through the pipeline.
type Executor struct {
	pipeline *Pipeline
	metrics  *metrics.Metrics
}

func NewExecutor(pipeline *Pipeline, m *metrics.Metrics) *Executor {
	return &Executor{pipeline: pipeline, metrics: m}
}

func (e *Executor) ID() string {
	return ProviderID
}

func (e *Executor) Capabilities() providers.Capabilities {
	return providers.Capabilities{
		Protocol: providers.ProtocolHTTP,
		Types:    []models.LookupType{models.LookupPANVerification},
		Version:  "v1",
	}
}

func (e *Executor) Execute(ctx context.Context, call models.ProviderCall) (*models.ProviderAnswer, error) {
	start := time.Now()
	result, err := e.pipeline.Execute(ctx, call.TransactionID, call.LookupType.DocType(), call.Value)
	if err != nil {
		e.metrics.ObserveProviderLatency(ProviderID, "error", time.Since(start))
		return nil, toProviderError(err)
	}
	e.metrics.ObserveProviderLatency(ProviderID, "ok", time.Since(start))

	answer := &models.ProviderAnswer{StatusCode: result.Status, Message: result.ErrorMessage}
	if result.Payload != nil {
		data, err := json.Marshal(result.Payload)
		if err != nil {
			return nil, providers.NewProviderError(providers.ErrorInternal, ProviderID, "failed to encode result", err)
		}
		answer.Data = data
	}
	return answer, nil
}

// toProviderError keeps the transport's category when there is one; step
// failures reported by the provider itself are bad data.
func toProviderError(err error) error {
	var stepErr *StepError
	if !errors.As(err, &stepErr) {
		return providers.NewProviderError(providers.ErrorInternal, ProviderID, err.Error(), err)
	}
	category := providers.ErrorBadData
	var transportErr *providers.ProviderError
	if errors.As(stepErr.Err, &transportErr) {
		category = transportErr.Category
	}
	return providers.NewProviderError(category, ProviderID, stepErr.Message, stepErr)
}
