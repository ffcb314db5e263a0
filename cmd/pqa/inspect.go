// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/probqa/services/pqa"
)

// kbSummary is what inspect reports about a saved knowledge base.
type kbSummary struct {
	Dir            string               `json:"dir"`
	Dims           pqa.EngineDimensions `json:"dims"`
	QuestionsAsked uint64               `json:"questions_asked"`
	TopTargets     []baselineTarget     `json:"top_targets"`
}

// baselineTarget is a target ranked by its baseline weight.
type baselineTarget struct {
	Target    int64   `json:"target"`
	Permanent int64   `json:"permanent_id"`
	Weight    float64 `json:"weight"`
	Share     float64 `json:"share"`
}

func newInspectCmd(a *app) *cobra.Command {
	var top int
	var asJSON, metrics bool

	cmd := &cobra.Command{
		Use:   "inspect [DIR]",
		Short: "Summarize a saved knowledge base",
		Long: `Load a knowledge base saved by the engine and print its dimensions,
the total number of answers recorded and the targets with the largest
baseline weight. DIR defaults to the configured storage directory.

Examples:
  pqa inspect
  pqa inspect /var/lib/probqa/kb --top 20 --json
  pqa inspect --metrics`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Storage.Dir
			if len(args) == 1 {
				dir = args[0]
			}
			sum, err := inspectKB(cmd.Context(), dir, top, a.engineOptions()...)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(sum); err != nil {
					return err
				}
			} else {
				printSummary(out, sum)
			}
			if metrics {
				return printMetrics(out, prometheus.DefaultGatherer)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&top, "top", 10, "Number of targets to list")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&metrics, "metrics", false, "Also print the engine metrics gathered while loading")
	return cmd
}

func inspectKB(ctx context.Context, dir string, top int, opts ...pqa.Option) (kbSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := pqa.LoadEngine(ctx, dir, opts...)
	if err != nil {
		return kbSummary{}, err
	}
	defer e.Shutdown(ctx, "")

	dims, err := e.CopyDims()
	if err != nil {
		return kbSummary{}, err
	}
	asked, err := e.TotalQuestionsAsked()
	if err != nil {
		return kbSummary{}, err
	}
	b := make([]float64, dims.Targets)
	if err := e.CopyBTargets(b); err != nil {
		return kbSummary{}, err
	}

	perm := make([]int64, dims.Targets)
	for i := range perm {
		perm[i] = int64(i)
	}
	// Removed targets translate to InvalidID and are skipped below.
	e.TargetPermFromComp(perm)

	var total float64
	ranked := make([]baselineTarget, 0, dims.Targets)
	for t, w := range b {
		if perm[t] == pqa.InvalidID || w <= 0 {
			continue
		}
		total += w
		ranked = append(ranked, baselineTarget{Target: int64(t), Permanent: perm[t], Weight: w})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Weight > ranked[j].Weight })
	if top >= 0 && len(ranked) > top {
		ranked = ranked[:top]
	}
	for i := range ranked {
		ranked[i].Share = ranked[i].Weight / total
	}
	return kbSummary{Dir: dir, Dims: dims, QuestionsAsked: asked, TopTargets: ranked}, nil
}

func printSummary(w io.Writer, s kbSummary) {
	fmt.Fprintf(w, "knowledge base %s\n", s.Dir)
	fmt.Fprintf(w, "  questions: %d\n  answers:   %d\n  targets:   %d\n",
		s.Dims.Questions, s.Dims.Answers, s.Dims.Targets)
	fmt.Fprintf(w, "  answers recorded by quizzes: %d\n", s.QuestionsAsked)
	if len(s.TopTargets) == 0 {
		return
	}
	fmt.Fprintf(w, "\n  %-8s %-10s %12s %8s\n", "TARGET", "PERMANENT", "WEIGHT", "SHARE")
	for _, t := range s.TopTargets {
		fmt.Fprintf(w, "  %-8d %-10d %12.3f %7.2f%%\n", t.Target, t.Permanent, t.Weight, 100*t.Share)
	}
}

// printMetrics writes every probqa metric family in g.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	fmt.Fprintln(w, "\nmetrics")
	for _, mf := range families {
		if !isEngineMetric(mf.GetName()) {
			continue
		}
		for _, m := range mf.GetMetric() {
			fmt.Fprintf(w, "  %s%s %s\n", mf.GetName(), formatLabels(m.GetLabel()), formatValue(mf.GetType(), m))
		}
	}
	return nil
}

func isEngineMetric(name string) bool {
	return len(name) > 4 && name[:4] == "pqa_"
}

func formatLabels(labels []*dto.LabelPair) string {
	if len(labels) == 0 {
		return ""
	}
	s := "{"
	for i, l := range labels {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%s=%q", l.GetName(), l.GetValue())
	}
	return s + "}"
}

func formatValue(t dto.MetricType, m *dto.Metric) string {
	switch t {
	case dto.MetricType_COUNTER:
		return fmt.Sprintf("%g", m.GetCounter().GetValue())
	case dto.MetricType_GAUGE:
		return fmt.Sprintf("%g", m.GetGauge().GetValue())
	case dto.MetricType_HISTOGRAM:
		h := m.GetHistogram()
		return fmt.Sprintf("count=%d sum=%g", h.GetSampleCount(), h.GetSampleSum())
	default:
		return "?"
	}
}
