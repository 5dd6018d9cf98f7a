// Package pan runs the PAN provider's three-step protocol: encrypt the
// request, transmit the opaque token, decrypt the answer.
package pan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"verigate/internal/lookup/models"
	"verigate/internal/lookup/providers"
)

// Step names a pipeline stage.
type Step string

const (
	StepEncrypt  Step = "encrypt"
	StepTransmit Step = "transmit"
	StepDecrypt  Step = "decrypt"
)

// State is the pipeline's position. Done and Failed are terminal.
type State string

const (
	StateAwaitingEncrypt  State = "awaiting_encrypt"
	StateAwaitingTransmit State = "awaiting_transmit"
	StateAwaitingDecrypt  State = "awaiting_decrypt"
	StateDone             State = "done"
	StateFailed           State = "failed"
)

func (s State) terminal() bool {
	return s == StateDone || s == StateFailed
}

// ErrAmbiguousSuccess is returned when decrypt reports status 1 without a
// structured result object.
var ErrAmbiguousSuccess = errors.New("decrypt reported success without a structured result")

// StepError is a failure at one pipeline step. Message is the provider's
// text for that step, unchanged.
type StepError struct {
	Step    Step
	Message string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("pan %s failed: %s", e.Step, e.Message)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Result is the decrypted answer. Status is 1 (verified) or 9 (not found).
type Result struct {
	Status       int
	Payload      map[string]any
	ErrorMessage string
}

type encryptRequest struct {
	TransactionID string `json:"transactionId"`
	DocType       string `json:"docType"`
	DocNumber     string `json:"docNumber"`
}

type encryptResponse struct {
	RequestData string `json:"requestData"`
}

type transmitRequest struct {
	RequestData string `json:"requestData"`
}

type transmitResponse struct {
	ResponseData string `json:"responseData"`
}

type decryptRequest struct {
	ResponseData string `json:"responseData"`
}

type decryptResponse struct {
	Status *int            `json:"status"`
	Msg    json.RawMessage `json:"msg"`
}

// Transport is the JSON transport the pipeline sends each step over.
type Transport interface {
	PostJSON(ctx context.Context, path string, in, out any) error
}

// Pipeline sequences the three provider calls. It never retries: a new
// attempt needs a new transaction ID.
type Pipeline struct {
	transport Transport
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = tracer
	}
}

func NewPipeline(transport Transport, opts ...Option) *Pipeline {
	p := &Pipeline{
		transport: transport,
		logger:    slog.Default(),
		tracer:    otel.Tracer("verigate/providers/pan"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// run carries one attempt through the state machine.
type run struct {
	state         State
	transactionID string
	docType       string
	docNumber     string
	requestData   string
	responseData  string
	result        *Result
	err           *StepError
}

// Execute runs one attempt. The caller's cancellation is not propagated:
// once submitted, every step resolves or fails on its own, bounded by the
// transport timeout.
func (p *Pipeline) Execute(ctx context.Context, transactionID, docType, docNumber string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	ctx, span := p.tracer.Start(ctx, "pan.pipeline", trace.WithAttributes(
		attribute.String("transaction_id", transactionID),
		attribute.String("doc_type", docType),
	))
	defer span.End()

	r := &run{
		state:         StateAwaitingEncrypt,
		transactionID: transactionID,
		docType:       docType,
		docNumber:     docNumber,
	}
	for !r.state.terminal() {
		switch r.state {
		case StateAwaitingEncrypt:
			p.encrypt(ctx, r)
		case StateAwaitingTransmit:
			p.transmit(ctx, r)
		case StateAwaitingDecrypt:
			p.decrypt(ctx, r)
		}
	}

	if r.err != nil {
		span.RecordError(r.err)
		span.SetStatus(codes.Error, string(r.err.Step))
		p.logger.WarnContext(ctx, "pan pipeline failed",
			"transaction_id", transactionID,
			"step", r.err.Step,
			"message", r.err.Message,
		)
		return nil, r.err
	}
	span.SetAttributes(attribute.Int("status", r.result.Status))
	return r.result, nil
}

func (r *run) fail(step Step, message string, err error) {
	r.state = StateFailed
	r.err = &StepError{Step: step, Message: message, Err: err}
}

func (p *Pipeline) call(ctx context.Context, step Step, in, out any) error {
	ctx, span := p.tracer.Start(ctx, "pan."+string(step))
	defer span.End()
	if err := p.transport.PostJSON(ctx, "/"+string(step), in, out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func (p *Pipeline) encrypt(ctx context.Context, r *run) {
	var resp encryptResponse
	err := p.call(ctx, StepEncrypt, encryptRequest{
		TransactionID: r.transactionID,
		DocType:       r.docType,
		DocNumber:     r.docNumber,
	}, &resp)
	if err != nil {
		r.fail(StepEncrypt, providers.MessageOf(err), err)
		return
	}
	if resp.RequestData == "" {
		r.fail(StepEncrypt, "encrypt response missing requestData", nil)
		return
	}
	r.requestData = resp.RequestData
	r.state = StateAwaitingTransmit
}

func (p *Pipeline) transmit(ctx context.Context, r *run) {
	var resp transmitResponse
	if err := p.call(ctx, StepTransmit, transmitRequest{RequestData: r.requestData}, &resp); err != nil {
		r.fail(StepTransmit, providers.MessageOf(err), err)
		return
	}
	if resp.ResponseData == "" {
		r.fail(StepTransmit, "transmit response missing responseData", nil)
		return
	}
	r.responseData = resp.ResponseData
	r.state = StateAwaitingDecrypt
}

func (p *Pipeline) decrypt(ctx context.Context, r *run) {
	var resp decryptResponse
	if err := p.call(ctx, StepDecrypt, decryptRequest{ResponseData: r.responseData}, &resp); err != nil {
		r.fail(StepDecrypt, providers.MessageOf(err), err)
		return
	}
	if resp.Status == nil && isAbsent(resp.Msg) {
		r.fail(StepDecrypt, "decrypt response missing status and msg", nil)
		return
	}

	status := 0
	if resp.Status != nil {
		status = *resp.Status
	}
	payload, text := splitMsg(resp.Msg)

	switch {
	case status == models.StatusSuccess && payload != nil:
		r.result = &Result{Status: status, Payload: payload}
		r.state = StateDone
	case status == models.StatusSuccess:
		message := text
		if message == "" {
			message = ErrAmbiguousSuccess.Error()
		}
		r.fail(StepDecrypt, message, ErrAmbiguousSuccess)
	case status == models.StatusNotFound:
		r.result = &Result{Status: status, Payload: payload, ErrorMessage: text}
		r.state = StateDone
	default:
		message := text
		if message == "" {
			message = fmt.Sprintf("decrypt returned status %d", status)
		}
		r.fail(StepDecrypt, message, nil)
	}
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed == "" || trimmed == "null"
}

// splitMsg separates a structured msg object from a plain-text msg.
func splitMsg(raw json.RawMessage) (map[string]any, string) {
	if isAbsent(raw) {
		return nil, ""
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj, ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return nil, text
	}
	return nil, strings.TrimSpace(string(raw))
}
