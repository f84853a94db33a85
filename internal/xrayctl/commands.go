package xrayctl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"

	"xrayd/pkg/types"
)

const requestTimeout = 5 * time.Minute

func runPredict(cfg *Config, path, method string, fetch bool, outDir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	c := NewClient(cfg.Server)
	started := time.Now()
	resp, err := c.Predict(ctx, path, method)
	if err != nil {
		return err
	}
	info("[xrayctl] %s explained with %s in %s", path, resp.CAMMethod, time.Since(started).Round(time.Millisecond))
	printPredictions(resp)

	if fetch {
		for _, name := range []string{resp.HeatmapPath, resp.SuperimposedPath} {
			saved, err := c.SaveImage(ctx, name, outDir)
			if err != nil {
				warn("[xrayctl] fetch %s failed: %v", name, err)
				continue
			}
			info("[xrayctl] saved %s", saved)
		}
	}
	return nil
}

// printPredictions lists findings by descending probability, marking the
// positive ones.
func printPredictions(resp *types.PredictResponse) {
	labels := lo.Keys(resp.Predictions)
	sort.Slice(labels, func(i, j int) bool {
		return resp.Predictions[labels[i]].Probability > resp.Predictions[labels[j]].Probability
	})
	for _, label := range labels {
		p := resp.Predictions[label]
		marker := " "
		if p.Positive {
			marker = "+"
		}
		fmt.Printf("  %s %-20s %.4f\n", marker, label, p.Probability)
	}
	fmt.Printf("  heatmap:      %s\n", resp.HeatmapPath)
	fmt.Printf("  superimposed: %s\n", resp.SuperimposedPath)
}

func runStatus(cfg *Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	st, err := NewClient(cfg.Server).Status(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("state:        %s\n", st.State)
	fmt.Printf("model dir:    %s\n", st.Model.Dir)
	fmt.Printf("classes:      %d (target layer %s)\n", st.Model.Classes, st.Model.TargetLayer)
	fmt.Printf("input size:   %dx%d\n", st.Model.InputSize[0], st.Model.InputSize[1])
	fmt.Printf("workers:      %d (queue %d/%d, inflight %d)\n", st.Workers, st.QueueLen, st.MaxQueueDepth, st.Inflight)
	fmt.Printf("cache:        enabled=%v hits=%d\n", st.CacheEnabled, st.CacheHits)
	fmt.Printf("predictions:  %d (uptime %ds)\n", st.PredictionsTotal, st.UptimeSeconds)
	return nil
}

func runFetchImage(cfg *Config, name, outDir string) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	saved, err := NewClient(cfg.Server).SaveImage(ctx, name, outDir)
	if err != nil {
		return err
	}
	info("[xrayctl] saved %s", saved)
	return nil
}

func runHealth(cfg *Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	if err := NewClient(cfg.Server).Health(ctx); err != nil {
		return err
	}
	info("[xrayctl] %s is healthy", cfg.Server)
	return nil
}
