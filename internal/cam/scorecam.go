package cam

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"

	"xrayd/internal/nn"
	"xrayd/internal/tensor"
)

const (
	// maxScoreChannels caps how many activation channels get a masked
	// forward pass. DenseNet feature blocks carry ~1000 channels; scoring
	// them all costs minutes, the strongest 64 carry the signal.
	maxScoreChannels = 64

	defaultScoreWorkers = 4
)

// scoreCAM is the gradient-free method: each strong activation channel is
// upsampled to input size, softmax-normalized into a mask, and the class
// logit of the masked input weighs that mask's contribution. Slower than the
// gradient methods by one forward pass per scored channel, but immune to
// gradient saturation.
type scoreCAM struct {
	workers int
}

func (s *scoreCAM) Method() Method { return ScoreCAM }

func (s *scoreCAM) Generate(ctx context.Context, net Network, x *tensor.Tensor, rec *nn.Recorder, classIdx int) (*tensor.Tensor, error) {
	acts, err := capturedActivations(rec)
	if err != nil {
		return nil, fmt.Errorf("scorecam: %w", err)
	}
	if x == nil || x.Rank() != 3 {
		return nil, fmt.Errorf("scorecam: input must be a rank-3 [C,H,W] tensor")
	}
	if classIdx < 0 {
		return nil, fmt.Errorf("scorecam: class index %d out of range", classIdx)
	}
	height, width := x.Shape[1], x.Shape[2]

	rectified := tensor.ReLU(acts)
	importance, err := tensor.ChannelMeans(rectified)
	if err != nil {
		return nil, fmt.Errorf("scorecam: %w", err)
	}
	top := topChannels(importance, maxScoreChannels)

	workers := s.workers
	if workers > len(top) {
		workers = len(top)
	}

	// Each worker owns a static stripe of the channel list and its own
	// accumulator; the stripes are reduced in worker order afterwards, so
	// the result does not depend on goroutine scheduling.
	partials := make([]*tensor.Tensor, workers)
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		w := w
		g.Go(func() error {
			local, err := tensor.Zeros([]int{height, width})
			if err != nil {
				return err
			}
			for i := w; i < len(top); i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				ch := top[i]
				if err := s.accumulate(gctx, net, x, rectified, local, ch, importance[ch], classIdx); err != nil {
					return err
				}
			}
			partials[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("scorecam: %w", err)
	}

	m, err := tensor.Zeros([]int{height, width})
	if err != nil {
		return nil, err
	}
	for _, p := range partials {
		if err := tensor.AddScaledInPlace(m, p, 1); err != nil {
			return nil, err
		}
	}
	return finalize(m), nil
}

// accumulate adds one channel's scored mask into local.
func (s *scoreCAM) accumulate(_ context.Context, net Network, x, rectified, local *tensor.Tensor, ch int, importance float32, classIdx int) error {
	channel, err := tensor.Channel(rectified, ch)
	if err != nil {
		return err
	}
	upsampled, err := tensor.ResizeBilinear(channel, local.Shape[0], local.Shape[1])
	if err != nil {
		return err
	}
	mask := tensor.SoftmaxFlat(upsampled)

	logits, err := net.Forward(maskInput(x, mask), nil)
	if err != nil {
		return err
	}
	maskedPassesTotal.Inc()
	if classIdx >= logits.NumElems() {
		return fmt.Errorf("class index %d out of range [0,%d)", classIdx, logits.NumElems())
	}
	score := logits.Data[classIdx]
	return tensor.AddScaledInPlace(local, mask, score*importance)
}

// maskInput multiplies every input channel elementwise by a [H,W] mask.
func maskInput(x, mask *tensor.Tensor) *tensor.Tensor {
	out := x.Clone()
	plane := x.Shape[1] * x.Shape[2]
	for c := 0; c < x.Shape[0]; c++ {
		base := c * plane
		for i := 0; i < plane; i++ {
			out.Data[base+i] *= mask.Data[i]
		}
	}
	return out
}

// topChannels returns the indices of the k largest importances, strongest
// first. Ties break toward the lower index so the selection is stable.
func topChannels(importance []float32, k int) []int {
	idx := make([]int, len(importance))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return importance[idx[a]] > importance[idx[b]]
	})
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}
