// Package pipeline runs the kiosk's driving loop. One goroutine paces frames,
// dispatches single-flight perception workers and drains their tagged results
// into the verification state machine. Workers never touch session state.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/warden/internal/frame"
	"github.com/andresmejia3/warden/internal/gallery"
	"github.com/andresmejia3/warden/internal/session"
	"github.com/andresmejia3/warden/internal/types"
)

// Settings are the cadences and scales of the workers.
type Settings struct {
	MeshScale         float64
	DetectScale       float64
	LumaThreshold     float64
	DetectInterval    time.Duration
	IdentifyInterval  time.Duration
	CodeEveryN        int
	ProcessingTimeout time.Duration
	// SuspendRefresh is how often the screen is redrawn while the camera is down.
	SuspendRefresh time.Duration
}

func DefaultSettings() Settings {
	return Settings{
		MeshScale:         0.5,
		DetectScale:       0.2,
		LumaThreshold:     80,
		DetectInterval:    400 * time.Millisecond,
		IdentifyInterval:  1300 * time.Millisecond,
		CodeEveryN:        5,
		ProcessingTimeout: 20 * time.Second,
		SuspendRefresh:    500 * time.Millisecond,
	}
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Source       Source
	Engines      Engines
	Gallery      *gallery.Gallery
	Matcher      gallery.Matcher
	Machine      *session.Machine
	Transactions TransactionProcessor
	Renderer     Renderer
	Logger       *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Pipeline struct {
	cfg     Settings
	src     Source
	eng     Engines
	gallery *gallery.Gallery
	matcher gallery.Matcher
	machine *session.Machine
	txn     TransactionProcessor
	render  Renderer
	log     *slog.Logger
	now     func() time.Time

	cache   DetectionCache
	results chan Result
	retry   chan struct{}
	wg      sync.WaitGroup

	// Loop-owned state.
	tick         uint64
	inflight     [numTasks]bool
	lastDetect   time.Time
	lastIdentify time.Time
	emptyVersion uint64
	lastFrame    frame.Frame
}

func New(cfg Settings, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Source == nil:
		return nil, errors.New("pipeline: no frame source")
	case deps.Engines.Mesh == nil, deps.Engines.Detector == nil, deps.Engines.Embedder == nil, deps.Engines.Codes == nil:
		return nil, errors.New("pipeline: missing perception engine")
	case deps.Machine == nil:
		return nil, errors.New("pipeline: no state machine")
	case deps.Transactions == nil:
		return nil, errors.New("pipeline: no transaction processor")
	}
	if cfg.CodeEveryN < 1 {
		cfg.CodeEveryN = 1
	}
	if cfg.SuspendRefresh <= 0 {
		cfg.SuspendRefresh = 500 * time.Millisecond
	}
	p := &Pipeline{
		cfg:     cfg,
		src:     deps.Source,
		eng:     deps.Engines,
		gallery: deps.Gallery,
		matcher: deps.Matcher,
		machine: deps.Machine,
		txn:     deps.Transactions,
		render:  deps.Renderer,
		log:     deps.Logger,
		now:     deps.Now,
		results: make(chan Result, 2*int(numTasks)),
		retry:   make(chan struct{}, 1),
	}
	if p.log == nil {
		p.log = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// RequestRetry asks a suspended loop to reopen the camera. It never blocks.
func (p *Pipeline) RequestRetry() {
	select {
	case p.retry <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is cancelled. In-flight workers are waited for before it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.shutdown()

	for {
		f, err := p.src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, frame.ErrCameraUnavailable) {
				return err
			}
			if err := p.suspend(ctx, err); err != nil {
				return nil
			}
			continue
		}
		p.Step(ctx, f)
	}
}

// Step runs one tick of the loop on f.
func (p *Pipeline) Step(ctx context.Context, f frame.Frame) {
	now := p.now()
	p.tick++
	p.lastFrame = f

	p.drain(now)
	if p.machine.Advance(now) == session.StartTransaction {
		p.startTransaction(ctx)
	}
	p.dispatch(ctx, f, now)

	if p.render != nil {
		p.render.Render(p.snapshot(f, now))
	}
}

// suspend parks the loop after a camera failure until a retry reopens it.
// Results keep draining so single-flight flags are released.
func (p *Pipeline) suspend(ctx context.Context, cause error) error {
	p.log.Error("camera unavailable, waiting for retry", "error", cause)
	p.machine.Abort(p.now(), "camera unavailable")
	p.renderDown(cause)

	ticker := time.NewTicker(p.cfg.SuspendRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res := <-p.results:
			p.apply(p.now(), res)
		case <-ticker.C:
			p.machine.Advance(p.now())
			p.renderDown(cause)
		case <-p.retry:
			if err := p.src.Open(); err != nil {
				p.log.Warn("camera retry failed", "error", err)
				cause = err
				p.renderDown(cause)
				continue
			}
			p.log.Info("camera reopened")
			return nil
		}
	}
}

func (p *Pipeline) renderDown(cause error) {
	if p.render == nil {
		return
	}
	s := p.snapshot(p.lastFrame, p.now())
	s.CameraDown = true
	s.CameraError = cause.Error()
	s.Caption = "Camera unavailable"
	p.render.Render(s)
}

func (p *Pipeline) drain(now time.Time) {
	for {
		select {
		case res := <-p.results:
			p.apply(now, res)
		default:
			return
		}
	}
}

// apply folds one worker result into loop state. It is the only place a flag is cleared.
func (p *Pipeline) apply(now time.Time, res Result) {
	if res.Task != TransactionTask {
		p.inflight[res.Task] = false
	}
	if res.Err != nil && res.Task != TransactionTask {
		p.log.Warn("worker failed", "task", res.Task.String(), "error", res.Err)
	}

	switch res.Task {
	case MeshTask:
		p.machine.ObserveMesh(now, res.Mesh)

	case DetectTask:
		if res.Faces == 0 {
			// A result that never reached the cache carries version 0; it must not rewind the watermark.
			if res.Version > p.emptyVersion {
				p.emptyVersion = res.Version
			}
			p.machine.ApplyVerdict(now, p.machine.Generation(), types.Unset)
		}

	case IdentifyTask:
		if res.Verdict.Kind == types.VerdictUnset {
			return
		}
		if res.Version < p.emptyVersion {
			p.log.Debug("discarding verdict from superseded detection",
				"version", res.Version, "empty_version", p.emptyVersion)
			return
		}
		if !p.machine.ApplyVerdict(now, res.Gen, res.Verdict) {
			p.log.Debug("discarding stale verdict", "generation", res.Gen, "current", p.machine.Generation())
		}

	case CodeTask:
		if res.Code != "" && !p.machine.ApplyCode(res.Gen, res.Code) {
			p.log.Debug("ignoring code", "generation", res.Gen, "current", p.machine.Generation())
		}

	case TransactionTask:
		if !p.machine.CompleteTransaction(now, res.Gen, res.Outcome, res.Err) {
			p.log.Debug("discarding stale transaction result", "generation", res.Gen, "error", res.Err)
			return
		}
		if res.Err != nil {
			p.log.Warn("transaction failed", "generation", res.Gen, "error", res.Err)
		}
	}
}

func (p *Pipeline) dispatch(ctx context.Context, f frame.Frame, now time.Time) {
	if f.Empty() {
		return
	}
	gen := p.machine.Generation()

	if !p.inflight[MeshTask] {
		p.spawn(MeshTask, gen, func() Result {
			mesh, err := p.eng.Mesh.Estimate(ctx, frame.Downscale(f.Image, p.cfg.MeshScale))
			if err != nil {
				return Result{Err: err}
			}
			return Result{Mesh: mesh}
		})
	}

	if !p.inflight[DetectTask] && now.Sub(p.lastDetect) >= p.cfg.DetectInterval {
		p.lastDetect = now
		p.spawn(DetectTask, gen, func() Result { return p.detect(ctx, f) })
	}

	if !p.inflight[IdentifyTask] && p.gallery.Len() > 0 && p.cache.HasFaces() &&
		now.Sub(p.lastIdentify) >= p.cfg.IdentifyInterval {
		p.lastIdentify = now
		p.spawn(IdentifyTask, gen, func() Result { return p.identify(ctx) })
	}

	if !p.inflight[CodeTask] && p.tick%uint64(p.cfg.CodeEveryN) == 0 && p.machine.WantsCode() {
		p.spawn(CodeTask, gen, func() Result {
			code, err := p.eng.Codes.Decode(ctx, f.Image)
			return Result{Code: code, Err: err}
		})
	}
}

// detect runs on a worker goroutine. A failed pass is stored as an empty detection.
func (p *Pipeline) detect(ctx context.Context, f frame.Frame) Result {
	small := frame.Downscale(f.Image, p.cfg.DetectScale)
	enhance := frame.MeanLuma(small) < p.cfg.LumaThreshold

	regions, err := p.callDetector(ctx, small, enhance)
	if err != nil {
		regions = nil
	}
	regions = rescale(regions, small.Rect, f.Image.Rect)
	v := p.cache.Store(f, regions, p.now())
	return Result{Version: v, Faces: len(regions), Err: err}
}

// callDetector turns a detector panic into an error so the pass still lands in the cache as empty.
func (p *Pipeline) callDetector(ctx context.Context, img *image.RGBA, enhance bool) (regions []types.Region, err error) {
	defer func() {
		if r := recover(); r != nil {
			regions, err = nil, fmt.Errorf("%w: %s: %v", ErrWorkerPanic, DetectTask, r)
		}
	}()
	return p.eng.Detector.Detect(ctx, img, enhance)
}

// identify runs on a worker goroutine against a copy of the cached detection.
func (p *Pipeline) identify(ctx context.Context) Result {
	det, ok := p.cache.Snapshot()
	if !ok {
		return Result{Version: det.Version}
	}
	region := det.Regions[types.Largest(det.Regions)]
	emb, err := p.eng.Embedder.Embed(ctx, det.Frame.Image, region)
	if err != nil || len(emb) == 0 {
		return Result{Version: det.Version, Err: err}
	}
	return Result{Version: det.Version, Verdict: p.matcher.Match(p.gallery, emb)}
}

func (p *Pipeline) startTransaction(ctx context.Context) {
	st := p.machine.State()
	req := TransactionRequest{SessionID: st.ID, Code: st.Code, Name: st.LockedName}
	p.log.Info("starting transaction", "session", st.ID, "generation", st.Generation)

	p.spawn(TransactionTask, st.Generation, func() Result {
		tctx := ctx
		if p.cfg.ProcessingTimeout > 0 {
			var cancel context.CancelFunc
			tctx, cancel = context.WithTimeout(ctx, p.cfg.ProcessingTimeout)
			defer cancel()
		}
		out, err := p.txn.Process(tctx, req)
		return Result{Outcome: out, Err: err}
	})
}

// spawn marks task in flight and runs fn on its own goroutine.
func (p *Pipeline) spawn(task Task, gen uint64, fn func() Result) {
	if task != TransactionTask {
		p.inflight[task] = true
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.results <- run(task, gen, fn)
	}()
}

// shutdown waits for every worker, discarding their results.
func (p *Pipeline) shutdown() {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	for {
		select {
		case <-p.results:
		case <-done:
			return
		}
	}
}

// rescale maps regions found on an image with bounds from onto bounds to.
func rescale(regions []types.Region, from, to image.Rectangle) []types.Region {
	if len(regions) == 0 || from.Dx() == 0 || from.Dy() == 0 || from == to {
		return regions
	}
	sx := float64(to.Dx()) / float64(from.Dx())
	sy := float64(to.Dy()) / float64(from.Dy())
	pt := func(q image.Point) image.Point {
		return image.Pt(int(float64(q.X)*sx), int(float64(q.Y)*sy))
	}

	out := make([]types.Region, len(regions))
	for i, r := range regions {
		out[i] = types.Region{
			Box:   image.Rectangle{Min: pt(r.Box.Min), Max: pt(r.Box.Max)}.Intersect(to),
			Score: r.Score,
		}
		for j, l := range r.Landmarks {
			out[i].Landmarks[j] = pt(l)
		}
	}
	return out
}
