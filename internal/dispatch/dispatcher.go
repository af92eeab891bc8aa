// internal/dispatch/dispatcher.go
package dispatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"action-engine/internal/allowlist"
	"action-engine/internal/common/errors"
	"action-engine/internal/common/logger"
	"action-engine/internal/common/metrics"
	"action-engine/internal/common/validation"
	"action-engine/internal/models"

	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome is the explicit result of one dispatch. Code is empty on success.
type Outcome struct {
	Success   bool
	Result    string
	Code      errors.ErrorCode
	Reference string
}

// ResultString is the value recorded on the action.
func (o *Outcome) ResultString() string {
	if o.Success {
		return o.Result
	}
	return fmt.Sprintf("%s: %s", o.Code, o.Result)
}

func failure(code errors.ErrorCode, reason string) *Outcome {
	return &Outcome{Success: false, Code: code, Result: reason}
}

// Digest is the hex BLAKE3-256 digest stored with every action payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

type Config struct {
	Timeout         time.Duration
	DefaultGasLimit uint64
}

type Option func(*Dispatcher)

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

func WithSchemas(r *validation.Registry) Option {
	return func(d *Dispatcher) { d.schemas = r }
}

type Dispatcher struct {
	registry allowlist.Registry
	executor Executor
	schemas  *validation.Registry
	config   Config
	tracer   trace.Tracer
	logger   logger.Logger
}

func New(registry allowlist.Registry, executor Executor, cfg Config, log logger.Logger, opts ...Option) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.DefaultGasLimit == 0 {
		cfg.DefaultGasLimit = 500000
	}
	d := &Dispatcher{
		registry: registry,
		executor: executor,
		config:   cfg,
		tracer:   otel.Tracer("action-engine/dispatch"),
		logger:   log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.schemas == nil {
		d.schemas = NewSchemaRegistry()
	}
	return d
}

func (d *Dispatcher) Timeout() time.Duration { return d.config.Timeout }

// Dispatch verifies, decodes and re-validates the action, then calls the
// executor. It never returns an error: every fault is folded into the Outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, action *models.Action) *Outcome {
	ctx, span := d.tracer.Start(ctx, "dispatch.Dispatch", trace.WithAttributes(
		attribute.Int64("action.id", int64(action.ID)),
		attribute.String("action.type", string(action.Type)),
		attribute.String("action.owner", action.Owner),
	))
	defer span.End()

	out := d.dispatch(ctx, action)
	if out.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(out.Code))
		span.SetAttributes(attribute.String("dispatch.result", out.Result))
	}
	return out
}

func (d *Dispatcher) dispatch(ctx context.Context, action *models.Action) *Outcome {
	if Digest(action.Payload) != action.PayloadDigest {
		return failure(errors.ErrCodeMalformedPayload, "payload digest mismatch")
	}

	payload, err := d.decode(action.Type, action.Payload)
	if err != nil {
		return failure(errors.ErrCodeMalformedPayload, err.Error())
	}

	if out := d.checkTargets(ctx, action, payload); out != nil {
		return out
	}

	gas := action.GasLimit
	if gas == 0 {
		gas = d.config.DefaultGasLimit
	}
	call := &Call{
		ActionID:   action.ID,
		Owner:      action.Owner,
		Type:       action.Type,
		Target:     models.NormalizeAddress(action.TargetAddress),
		GasLimit:   gas,
		Payload:    payload,
		RawPayload: action.Payload,
	}

	start := time.Now()
	receipt, err := d.execute(ctx, call)
	outcomeLabel := "success"
	defer func() {
		metrics.DispatchDuration.WithLabelValues(string(action.Type), outcomeLabel).Observe(time.Since(start).Seconds())
	}()

	if err != nil {
		outcomeLabel = "error"
		d.logger.Warn("executor call failed", map[string]interface{}{
			"actionId": action.ID, "error": err.Error(),
		})
		return failure(errors.ErrCodeExecutionFailed, err.Error())
	}
	if !receipt.Success {
		outcomeLabel = "reverted"
		reason := receipt.Message
		if reason == "" {
			reason = "executor reported failure"
		}
		return &Outcome{Code: errors.ErrCodeExecutionFailed, Result: reason, Reference: receipt.Reference}
	}

	result := receipt.Message
	if result == "" {
		result = receipt.Reference
	}
	return &Outcome{Success: true, Result: result, Reference: receipt.Reference}
}

// decode validates raw against the type's schema and fills the typed payload.
func (d *Dispatcher) decode(t models.ActionType, raw []byte) (models.Payload, error) {
	payload, ok := models.NewPayload(t)
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", t)
	}
	if custom, ok := payload.(*models.CustomAction); ok {
		custom.Data = append([]byte(nil), raw...)
		return custom, nil
	}

	res, err := d.schemas.ValidateJSON(string(t), raw)
	if err != nil {
		return nil, err
	}
	if !res.Valid {
		return nil, fmt.Errorf("schema: %s", res.Summary())
	}
	if err := json.Unmarshal(raw, payload); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return payload, nil
}

func (d *Dispatcher) checkTargets(ctx context.Context, action *models.Action, payload models.Payload) *Outcome {
	category, ok := models.CategoryOf(action.Type)
	if !ok {
		return failure(errors.ErrCodeMalformedPayload, fmt.Sprintf("unknown action type %q", action.Type))
	}

	refs := append([]models.AddressRef{{Address: action.TargetAddress, Protocol: category}}, payload.EmbeddedAddresses()...)
	for _, ref := range refs {
		supported, err := d.registry.IsSupported(ctx, ref.Address, ref.Protocol)
		if err != nil {
			return failure(errors.ErrCodeExecutionFailed, fmt.Sprintf("allow-list lookup: %v", err))
		}
		if !supported {
			return failure(errors.ErrCodeUnsupportedTarget,
				fmt.Sprintf("%s not supported under %s", models.NormalizeAddress(ref.Address), ref.Protocol))
		}
	}
	return nil
}

type executeResult struct {
	receipt *Receipt
	err     error
}

// execute bounds the executor by the dispatch timeout and converts panics
// into errors. A timed-out call keeps running in its goroutine; its result
// is dropped.
func (d *Dispatcher) execute(parent context.Context, call *Call) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(parent, d.config.Timeout)
	defer cancel()

	done := make(chan executeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- executeResult{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		receipt, err := d.executor.Execute(ctx, call)
		if err == nil && receipt == nil {
			err = fmt.Errorf("executor returned no receipt")
		}
		done <- executeResult{receipt: receipt, err: err}
	}()

	select {
	case res := <-done:
		return res.receipt, res.err
	case <-ctx.Done():
		if err := parent.Err(); err != nil {
			return nil, fmt.Errorf("executor interrupted by caller: %w", err)
		}
		return nil, fmt.Errorf("executor timed out after %s: %w", d.config.Timeout, ctx.Err())
	}
}
