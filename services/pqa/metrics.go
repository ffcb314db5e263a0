// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pqa

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("probqa.engine")

// Prometheus metrics for engine operations.
var (
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pqa_engine_operations_total",
		Help: "Total engine operations by operation and result code",
	}, []string{"op", "result"})

	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pqa_engine_operation_duration_seconds",
		Help:    "Duration of engine operations",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"op"})

	openQuizzes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pqa_engine_open_quizzes",
		Help: "Number of quizzes currently held by the engine",
	})

	questionsAsked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pqa_engine_questions_answered_total",
		Help: "Total answers recorded across all quizzes",
	})

	topTargetsStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pqa_engine_top_targets_total",
		Help: "Top targets listings by strategy",
	}, []string{"strategy"})
)

// opScope tracks one public engine operation for tracing and metrics.
type opScope struct {
	op    string
	start time.Time
	span  trace.Span
}

func startOp(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, *opScope) {
	ctx, span := tracer.Start(ctx, "Engine."+op, trace.WithAttributes(attrs...))
	return ctx, &opScope{op: op, start: time.Now(), span: span}
}

// finish ends the span and records the outcome.
func (s *opScope) finish(err error) {
	result := "ok"
	if err != nil {
		result = CodeOf(err).String()
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
	operationsTotal.WithLabelValues(s.op, result).Inc()
	operationDuration.WithLabelValues(s.op).Observe(time.Since(s.start).Seconds())
}
