package imagegen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"genqueue/internal/domain"
	"genqueue/internal/providers/genapi"
)

const defaultCallTimeout = 120 * time.Second

// Provider is the transport used by the Adapter.
type Provider interface {
	Generate(ctx context.Context, req genapi.Request) (*genapi.Result, error)
}

// Options configures an Adapter.
type Options struct {
	// Timeout bounds one provider call, including time spent waiting on the
	// pacing limiter.
	Timeout time.Duration
	// RPS paces provider calls across all jobs. Zero disables pacing.
	RPS    float64
	Burst  int
	Tracer trace.Tracer
	Logger zerolog.Logger
}

// Adapter turns job records into provider calls and normalizes the outcome.
type Adapter struct {
	provider Provider
	timeout  time.Duration
	limiter  *rate.Limiter
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewAdapter wires a provider with call timeout, pacing and tracing.
func NewAdapter(provider Provider, opts Options) *Adapter {
	a := &Adapter{
		provider: provider,
		timeout:  opts.Timeout,
		tracer:   opts.Tracer,
		logger:   opts.Logger,
	}
	if a.timeout <= 0 {
		a.timeout = defaultCallTimeout
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer("genqueue/imagegen")
	}
	return a
}

// BuildRequest maps a job to its provider request. References are passed in
// priority order and the seed only when the caller chose one.
func BuildRequest(job domain.JobRecord) genapi.Request {
	req := job.Request
	out := genapi.Request{
		Prompt:    req.Prompt,
		Width:     req.Width,
		Height:    req.Height,
		MaxImages: req.Count,
		Mode:      domain.NormalizeMode(req.Mode),
	}
	if req.Seed != nil {
		seed := *req.Seed
		out.Seed = &seed
	}
	if len(req.References) > 0 {
		refs := append([]domain.ReferenceImage(nil), req.References...)
		sort.SliceStable(refs, func(i, j int) bool { return refs[i].Priority < refs[j].Priority })
		out.Images = make([]string, len(refs))
		for i, ref := range refs {
			out.Images[i] = ref.URL
		}
	}
	return out
}

// Generate performs one provider call for job. Errors are always
// *domain.AdapterError.
func (a *Adapter) Generate(ctx context.Context, job domain.JobRecord) (domain.Outcome, error) {
	req := BuildRequest(job)
	ctx, span := a.tracer.Start(ctx, "imagegen.generate", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.mode", string(req.Mode)),
		attribute.Bool("job.edit", len(req.Images) > 0),
		attribute.Int("job.count", req.MaxImages),
		attribute.String("job.size", req.Size()),
	))
	defer span.End()

	outcome, err := a.generate(ctx, job, req)
	if err != nil {
		ae := domain.AsAdapterError(err)
		span.RecordError(ae)
		span.SetStatus(codes.Error, string(ae.Kind))
		span.SetAttributes(attribute.String("job.failure_kind", string(ae.Kind)))
		return domain.Outcome{}, ae
	}
	if outcome.Pending() {
		span.SetAttributes(attribute.String("job.pending_task_id", outcome.PendingTaskID))
	}
	span.SetAttributes(attribute.Int("job.results", len(outcome.Results)))
	span.SetStatus(codes.Ok, "")
	return outcome, nil
}

func (a *Adapter) generate(ctx context.Context, job domain.JobRecord, req genapi.Request) (domain.Outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return domain.Outcome{}, &domain.AdapterError{Kind: domain.FailureServerError, Message: "provider pacing wait aborted", Err: err}
		}
	}

	res, err := a.provider.Generate(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.Outcome{}, &domain.AdapterError{
				Kind:    domain.FailureServerError,
				Message: fmt.Sprintf("provider call timed out after %s", a.timeout),
				Err:     err,
			}
		}
		return domain.Outcome{}, domain.AsAdapterError(err)
	}
	if res == nil {
		return domain.Outcome{}, &domain.AdapterError{Kind: domain.FailureMalformedResponse, Message: "provider returned no result"}
	}
	if res.Pending() {
		a.logger.Info().Str("job_id", job.ID).Str("task_id", res.TaskID).Msg("imagegen: provider accepted job asynchronously")
		return domain.Outcome{PendingTaskID: res.TaskID}, nil
	}
	if len(res.Outputs) == 0 {
		return domain.Outcome{}, &domain.AdapterError{Kind: domain.FailureMalformedResponse, Message: "provider returned zero outputs"}
	}

	seed := res.Seed
	if seed == nil {
		seed = req.Seed
	}
	results := make([]domain.ImageResult, len(res.Outputs))
	for i, url := range res.Outputs {
		result := domain.ImageResult{
			ID:     fmt.Sprintf("%s-%d", job.ID, i),
			URL:    url,
			Width:  req.Width,
			Height: req.Height,
		}
		if seed != nil {
			s := *seed
			result.Seed = &s
		}
		results[i] = result
	}
	return domain.Outcome{Results: results}, nil
}
