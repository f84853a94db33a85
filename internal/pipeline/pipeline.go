package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"xrayd/internal/cache"
	"xrayd/internal/cam"
	"xrayd/internal/classify"
	"xrayd/internal/nn"
	"xrayd/internal/preprocess"
	"xrayd/internal/render"
	"xrayd/internal/store"
	"xrayd/pkg/types"
)

// Pipeline runs explanation passes against one loaded model.
type Pipeline struct {
	model      *nn.Model
	classifier *classify.Classifier
	store      *store.FS
	cache      cache.Cache
	log        zerolog.Logger

	adm        *admission
	workers    int
	camWorkers int
	cacheTTL   time.Duration

	inputH     int
	inputW     int
	bundleDir  string
	labels     []string
	thresholds []float64

	startTime time.Time
	served    atomic.Uint64
	hits      atomic.Uint64

	// newID names stored result images; swapped out in tests.
	newID func() string
}

// Request is one upload to explain.
type Request struct {
	// Filename as sent by the client; only the extension is consulted.
	Filename string
	// Content is the raw upload body.
	Content []byte
	// Method selects the CAM algorithm.
	Method string
}

// New constructs a Pipeline from Config, applying package defaults.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Bundle == nil || cfg.Bundle.Model == nil {
		return nil, errors.New("pipeline: no model bundle")
	}
	if cfg.Store == nil {
		return nil, errors.New("pipeline: no result store")
	}
	shape := cfg.Bundle.Model.InputShape()
	if shape[0] != 3 {
		return nil, fmt.Errorf("pipeline: model wants %d input channels, decoded images have 3", shape[0])
	}
	classifier, err := classify.New(cfg.Bundle.Model, cfg.Bundle.Labels, cfg.Bundle.Thresholds)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers()
	}
	depth := cfg.MaxQueueDepth
	if depth <= 0 {
		depth = defaultMaxQueueDepth
	}
	wait := cfg.MaxWait
	if wait <= 0 {
		wait = defaultMaxWait
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.DefaultPredictionTTL
	}

	return &Pipeline{
		model:      cfg.Bundle.Model,
		classifier: classifier,
		store:      cfg.Store,
		cache:      cfg.Cache,
		log:        cfg.Logger,
		adm:        newAdmission(workers, depth, wait),
		workers:    workers,
		camWorkers: cfg.CAMWorkers,
		cacheTTL:   ttl,
		inputH:     shape[1],
		inputW:     shape[2],
		bundleDir:  cfg.Bundle.Dir,
		labels:     cfg.Bundle.Labels,
		thresholds: cfg.Bundle.Thresholds,
		startTime:  time.Now(),
		newID:      uuid.NewString,
	}, nil
}

// Predict runs one explanation pass: admission, cache lookup, preprocessing,
// classification, saliency, rendering and persistence. Identical uploads with
// the same method return the cached result without touching the model.
func (p *Pipeline) Predict(ctx context.Context, req Request) (*types.PredictResponse, error) {
	method, err := cam.ParseMethod(req.Method)
	if err != nil {
		predictionsTotal.WithLabelValues(invalidMethodLabel, outcomeUnsupported).Inc()
		return nil, err
	}
	if err := validateUpload(req); err != nil {
		predictionsTotal.WithLabelValues(string(method), outcomeInvalid).Inc()
		return nil, err
	}

	release, err := p.adm.begin(ctx)
	if err != nil {
		predictionsTotal.WithLabelValues(string(method), outcomeFor(err)).Inc()
		return nil, err
	}
	defer release()

	resp, hit, err := p.run(ctx, req, method)
	if err != nil {
		predictionsTotal.WithLabelValues(string(method), outcomeFor(err)).Inc()
		p.log.Error().Err(err).Str("method", string(method)).Str("file", req.Filename).Msg("prediction failed")
		return nil, err
	}
	p.served.Add(1)
	if hit {
		p.hits.Add(1)
		predictionsTotal.WithLabelValues(string(method), outcomeCacheHit).Inc()
	} else {
		predictionsTotal.WithLabelValues(string(method), outcomeOK).Inc()
	}
	return resp, nil
}

func (p *Pipeline) run(ctx context.Context, req Request, method cam.Method) (*types.PredictResponse, bool, error) {
	key := cache.Key(req.Content, string(method))
	if cached, ok := p.lookup(ctx, key); ok {
		p.log.Info().Str("method", string(method)).Str("file", req.Filename).Msg("prediction cache hit")
		return cached, true, nil
	}

	img, format, err := preprocess.Decode(req.Content)
	if err != nil {
		return nil, false, ErrInvalidInput("undecodable image: " + err.Error())
	}
	bounds := img.Bounds()
	origW, origH := bounds.Dx(), bounds.Dy()

	x, err := preprocess.ToModelTensor(img, p.inputH, p.inputW)
	if err != nil {
		return nil, false, fmt.Errorf("preprocess: %w", err)
	}

	started := time.Now()
	rec := nn.NewRecorder()
	cres, err := p.classifier.Classify(x, rec)
	if err != nil {
		return nil, false, fmt.Errorf("classify: %w", err)
	}
	p.logFindings(cres)

	gen, err := cam.NewGenerator(method, cam.Options{Workers: p.camWorkers})
	if err != nil {
		return nil, false, err
	}
	saliency, err := gen.Generate(ctx, p.model, x, rec, cres.TargetClass)
	if err != nil {
		return nil, false, fmt.Errorf("saliency %s: %w", method, err)
	}
	inferDur := time.Since(started)
	inferenceDuration.WithLabelValues(string(method)).Observe(inferDur.Seconds())

	heat, err := render.Heatmap(saliency, origW, origH)
	if err != nil {
		return nil, false, fmt.Errorf("render heatmap: %w", err)
	}
	overlay, err := render.Overlay(heat, img)
	if err != nil {
		return nil, false, fmt.Errorf("render overlay: %w", err)
	}
	heatPNG, err := render.EncodePNG(heat)
	if err != nil {
		return nil, false, fmt.Errorf("encode heatmap: %w", err)
	}
	overPNG, err := render.EncodePNG(overlay)
	if err != nil {
		return nil, false, fmt.Errorf("encode overlay: %w", err)
	}

	id := p.newID()
	heatName := store.HeatmapName(string(method), id)
	overName := store.OverlayName(string(method), id)
	if err := p.store.Save(heatName, heatPNG); err != nil {
		return nil, false, fmt.Errorf("persist heatmap: %w", err)
	}
	if err := p.store.Save(overName, overPNG); err != nil {
		return nil, false, fmt.Errorf("persist overlay: %w", err)
	}

	resp := &types.PredictResponse{
		Predictions:      make(map[string]types.Prediction, len(cres.Labels)),
		CAMMethod:        string(method),
		HeatmapPath:      heatName,
		SuperimposedPath: overName,
		OriginalSize:     [2]int{origW, origH},
		ModelInputSize:   [2]int{p.inputW, p.inputH},
	}
	for i, label := range cres.Labels {
		resp.Predictions[label] = types.Prediction{
			Probability: cres.Probabilities[i],
			Positive:    cres.Positive[i],
		}
	}
	p.storeResult(ctx, key, resp)

	p.log.Info().
		Str("method", string(method)).
		Str("file", req.Filename).
		Str("format", format).
		Str("target", cres.TargetLabel()).
		Float64("target_probability", cres.TargetProbability()).
		Strs("positive", cres.PositiveLabels()).
		Int("width", origW).
		Int("height", origH).
		Dur("inference", inferDur).
		Str("heatmap", heatName).
		Str("overlay", overName).
		Msg("prediction complete")
	return resp, false, nil
}

// OpenImage opens a stored result image by name for download. Missing names
// unwrap to fs.ErrNotExist.
func (p *Pipeline) OpenImage(name string) (io.ReadCloser, error) {
	f, err := p.store.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (p *Pipeline) lookup(ctx context.Context, key string) (*types.PredictResponse, bool) {
	if p.cache == nil {
		return nil, false
	}
	payload, ok := p.cache.Get(ctx, key)
	if !ok {
		cacheEventsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var resp types.PredictResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		p.log.Warn().Err(err).Msg("discarding undecodable cached prediction")
		cacheEventsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	cacheEventsTotal.WithLabelValues("hit").Inc()
	return &resp, true
}

func (p *Pipeline) storeResult(ctx context.Context, key string, resp *types.PredictResponse) {
	if p.cache == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		p.log.Warn().Err(err).Msg("cannot encode prediction for caching")
		return
	}
	p.cache.Set(ctx, key, payload, p.cacheTTL)
}

func (p *Pipeline) logFindings(res *classify.Result) {
	for i, label := range res.Labels {
		p.log.Debug().
			Int("index", i).
			Str("finding", label).
			Float64("probability", res.Probabilities[i]).
			Float64("threshold", p.thresholds[i]).
			Bool("positive", res.Positive[i]).
			Msg("finding scored")
	}
}

func validateUpload(req Request) error {
	if req.Filename == "" || !preprocess.AllowedFile(req.Filename) {
		return ErrInvalidInput("invalid file format, only PNG, JPG and JPEG are allowed")
	}
	if len(req.Content) == 0 {
		return ErrInvalidInput("empty upload")
	}
	return nil
}

// outcomeFor maps an error to its predictionsTotal outcome label.
func outcomeFor(err error) string {
	switch {
	case err == nil:
		return outcomeOK
	case cam.IsUnsupportedMethod(err):
		return outcomeUnsupported
	case IsInvalidInput(err):
		return outcomeInvalid
	case IsTooBusy(err):
		return outcomeTooBusy
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return outcomeCanceled
	default:
		return outcomeError
	}
}
