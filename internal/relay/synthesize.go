package relay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ent0n29/gwent/internal/daemon"
	"github.com/ent0n29/gwent/internal/observability"
	"github.com/ent0n29/gwent/internal/redact"
	"github.com/ent0n29/gwent/internal/reliability"
)

// Request is one synthesis call. PreferredFormat "" means no preference;
// a nil MaxLength is left out of the daemon payload.
type Request struct {
	Text            string
	VoiceID         string
	SpeakingRate    float32
	PreferredFormat string
	MaxLength       *uint64
}

type Result struct {
	Audio       []byte
	ContentType string
}

// Synthesize forwards req to the daemon once an admission slot is free.
// The voice id is not checked against the catalog; see IsKnownVoice.
func (s *State) Synthesize(ctx context.Context, req Request) (result *Result, err error) {
	format := ParseFormat(req.PreferredFormat)

	ctx, span := s.tracer.Start(ctx, "gwent.synthesize",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gwent.voice", req.VoiceID),
			attribute.String("gwent.format", format.String()),
			attribute.Int("gwent.text_length", len(req.Text)),
		),
	)
	defer span.End()

	monitor := observability.StartDeadline(s.budget, s.deadlines, func(took time.Duration) {
		s.logger.Warn("fetching gwent audio exceeded deadline",
			"took_ms", took.Milliseconds(),
			"budget_ms", s.budget.Milliseconds(),
			"voice", req.VoiceID)
		if s.metrics != nil {
			s.metrics.DeadlineExceeded.Inc()
			s.metrics.ObserveIndicator(observability.IndicatorDeadlineExceeded)
		}
	})
	defer func() {
		took, _ := monitor.Stop()
		s.metrics.ObserveSynthLatency(took)
		s.finish(span, err)
	}()

	waitStart := time.Now()
	permit, err := s.gate.Acquire(ctx)
	s.updateGateGauges()
	if err != nil {
		return nil, err
	}
	defer func() {
		permit.Release()
		s.updateGateGauges()
	}()
	s.metrics.ObserveStage(observability.StageAdmissionWait, time.Since(waitStart))

	roundtripStart := time.Now()
	res, err := s.client.Synthesize(ctx, daemon.Payload{
		Text:         req.Text,
		Voice:        req.VoiceID,
		SpeakingRate: req.SpeakingRate,
		Format:       format.String(),
		MaxLength:    req.MaxLength,
	})
	s.metrics.ObserveStage(observability.StageDaemonRoundtrip, time.Since(roundtripStart))
	if err != nil {
		return nil, err
	}

	contentType := res.ContentType
	if contentType == "" {
		contentType = format.DefaultContentType()
	}
	return &Result{Audio: res.Audio, ContentType: contentType}, nil
}

func (s *State) finish(span trace.Span, err error) {
	outcome := "ok"
	if err != nil {
		outcome = reliability.Classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Debug("gwent synthesis failed", "kind", outcome, "error", redact.ForLog(err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if s.metrics == nil {
		return
	}
	s.metrics.SynthRequests.WithLabelValues(outcome).Inc()
	if err != nil && outcome != reliability.KindCanceled {
		s.metrics.DaemonErrors.WithLabelValues(outcome).Inc()
		s.metrics.ObserveIndicator(observability.IndicatorDaemonError)
	}
}

func (s *State) updateGateGauges() {
	if s.metrics == nil {
		return
	}
	s.metrics.SynthInFlight.Set(float64(s.gate.InFlight()))
	s.metrics.SynthWaiting.Set(float64(s.gate.Waiting()))
}
