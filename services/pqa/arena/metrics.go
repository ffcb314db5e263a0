// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package arena

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("probqa.arena")

var (
	acquireTotal    metric.Int64Counter
	acquireFailures metric.Int64Counter
	bytesInUse      metric.Int64UpDownCounter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		acquireTotal, err = meter.Int64Counter(
			"pqa_arena_acquire_total",
			metric.WithDescription("Total number of arena scopes acquired"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		acquireFailures, err = meter.Int64Counter(
			"pqa_arena_acquire_failures_total",
			metric.WithDescription("Total number of arena acquisitions rejected by the byte cap"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		bytesInUse, err = meter.Int64UpDownCounter(
			"pqa_arena_bytes_in_use",
			metric.WithDescription("Bytes held by unreleased arena scopes"),
			metric.WithUnit("By"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordAcquire(ctx context.Context, bytes int64) {
	if err := initMetrics(); err != nil {
		return
	}
	acquireTotal.Add(ctx, 1)
	bytesInUse.Add(ctx, bytes)
}

func recordRelease(ctx context.Context, bytes int64) {
	if err := initMetrics(); err != nil {
		return
	}
	bytesInUse.Add(ctx, -bytes)
}

func recordAcquireFailure(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	acquireFailures.Add(ctx, 1)
}
