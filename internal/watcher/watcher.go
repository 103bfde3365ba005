package watcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/agenthands/prism/internal/config"
	"github.com/agenthands/prism/internal/model"
	"github.com/agenthands/prism/internal/screen"
	"github.com/agenthands/prism/internal/vision"
)

type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Indexer is the watcher's write path into the semantic index.
type Indexer interface {
	IndexScreenState(ctx context.Context, ss *model.UIScreenState) error
}

// FrameSink receives the raw PNG of every indexed capture.
type FrameSink interface {
	Save(screenID string, png []byte) error
}

// CycleResult summarizes one capture cycle.
type CycleResult struct {
	Outcome       string        `json:"outcome"`
	ScreenID      string        `json:"screen_id,omitempty"`
	App           string        `json:"app,omitempty"`
	Summary       string        `json:"summary,omitempty"`
	NodeCount     int           `json:"node_count"`
	ChangePercent float64       `json:"change_percent"`
	Duration      time.Duration `json:"-"`
}

// Status is a point-in-time snapshot of the watcher.
type Status struct {
	State           State   `json:"state"`
	FPS             float64 `json:"fps"`
	FastMode        bool    `json:"fast_mode"`
	Captures        int64   `json:"captures"`
	Failures        int64   `json:"failures"`
	SkippedNoChange int64   `json:"skipped_no_change"`
	SkippedPaused   int64   `json:"skipped_paused"`
	SkippedNoWindow int64   `json:"skipped_no_window"`
	ErrorCount      int     `json:"error_count"`
	LastCaptureAt   int64   `json:"last_capture_at,omitempty"` // epoch ms
	LastScreenID    string  `json:"last_screen_id,omitempty"`
	LastSummary     string  `json:"last_summary,omitempty"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

// Providers are the collaborators a capture cycle runs through. Detector
// and OCR may be nil; the builder works with whatever is present.
type Providers struct {
	Capture  vision.ScreenshotProvider
	Windows  vision.WindowProvider
	Detector vision.Detector
	OCR      vision.OCRProvider
}

// Watcher drives the periodic capture-and-index loop.
//
// States: Stopped -> Running <-> Paused -> Stopped. A single goroutine
// owns the ticker, so ticks are serialized: a new tick cannot start
// while the previous capture-to-index sequence is still running.
// Control calls only touch the state mutex and never wait on an
// in-flight tick. When maxRetries consecutive ticks fail the watcher
// pauses itself and schedules an automatic resume after retryDelay.
type Watcher struct {
	providers Providers
	builder   *screen.Builder
	index     Indexer
	change    *ChangeDetector
	frames    FrameSink // optional

	mu          sync.Mutex
	cfg         config.WatcherConfig
	state       State
	errorCount  int
	errorPaused bool
	resumeTimer *time.Timer
	ticker      *time.Ticker

	captures        int64
	failures        int64
	skippedNoChange int64
	skippedPaused   int64
	skippedNoWindow int64
	lastCaptureAt   int64
	lastScreenID    string
	lastSummary     string
	totalProcessing time.Duration

	stopCh chan struct{}
	done   chan struct{}

	// captureMu serializes capture cycles between the loop and
	// CaptureNow so two writers never race on the change baseline
	// or on storage upserts.
	captureMu sync.Mutex
}

func New(cfg config.WatcherConfig, providers Providers, builder *screen.Builder, index Indexer, change *ChangeDetector, frames FrameSink) *Watcher {
	if cfg.FPS <= 0 {
		cfg.FPS = 1.0
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelaySeconds <= 0 {
		cfg.RetryDelaySeconds = 30
	}
	if cfg.CaptureTimeoutSeconds <= 0 {
		cfg.CaptureTimeoutSeconds = 30
	}
	return &Watcher{
		providers: providers,
		builder:   builder,
		index:     index,
		change:    change,
		frames:    frames,
		cfg:       cfg,
		state:     StateStopped,
	}
}

// Start begins ticking at the configured frame rate. It fails when the
// watcher is not stopped; Stop then Start yields fresh counters.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateStopped {
		return fmt.Errorf("watcher already %s", w.state)
	}
	if w.providers.Capture == nil {
		return fmt.Errorf("no screenshot provider configured")
	}

	w.captures = 0
	w.failures = 0
	w.skippedNoChange = 0
	w.skippedPaused = 0
	w.skippedNoWindow = 0
	w.errorCount = 0
	w.errorPaused = false
	w.lastCaptureAt = 0
	w.lastScreenID = ""
	w.lastSummary = ""
	w.totalProcessing = 0
	w.change.Reset()
	watcherErrors.Set(0)

	w.state = StateRunning
	w.ticker = time.NewTicker(w.intervalLocked())
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.run(w.ticker, w.stopCh, w.done)

	log.Printf("watcher: started at %.2f fps", w.cfg.FPS)
	return nil
}

// Stop halts the loop and waits for any in-flight tick to finish.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.state == StateStopped {
		w.mu.Unlock()
		return
	}
	w.state = StateStopped
	if w.resumeTimer != nil {
		w.resumeTimer.Stop()
		w.resumeTimer = nil
	}
	w.errorPaused = false
	var done chan struct{}
	if w.ticker != nil {
		w.ticker.Stop()
		close(w.stopCh)
		done = w.done
		w.ticker = nil
	}
	w.mu.Unlock()

	if done != nil {
		<-done
	}
	log.Printf("watcher: stopped")
}

// Pause suspends ticking without tearing down the timer, so resuming
// is cheap. Ticks while paused count as skipped.
func (w *Watcher) Pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateRunning {
		return
	}
	w.state = StatePaused
	w.errorPaused = false
	log.Printf("watcher: paused")
}

// Resume returns a paused watcher to Running and resets the error
// counter. It also cancels any pending backoff resume.
func (w *Watcher) Resume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused {
		return
	}
	if w.resumeTimer != nil {
		w.resumeTimer.Stop()
		w.resumeTimer = nil
	}
	w.state = StateRunning
	w.errorPaused = false
	w.errorCount = 0
	watcherErrors.Set(0)
	log.Printf("watcher: resumed")
}

// CaptureNow runs one capture cycle immediately, bypassing the pause
// flag and the change gate. It serializes with the loop but its errors
// do not count toward the backoff threshold; on-demand failures are the
// caller's to handle.
func (w *Watcher) CaptureNow(ctx context.Context) (*CycleResult, error) {
	res, err := w.performCapture(ctx, true)
	if err != nil {
		w.mu.Lock()
		w.failures++
		w.mu.Unlock()
		capturesTotal.WithLabelValues(OutcomeFailed).Inc()
		return nil, err
	}
	w.recordSuccess(res)
	return res, nil
}

// ConfigUpdate merges into the running config; nil fields keep their
// current values.
type ConfigUpdate struct {
	Enabled               *bool    `json:"enabled,omitempty"`
	FPS                   *float64 `json:"fps,omitempty"`
	MaxRetries            *int     `json:"max_retries,omitempty"`
	RetryDelaySeconds     *int     `json:"retry_delay_seconds,omitempty"`
	CaptureTimeoutSeconds *int     `json:"capture_timeout_seconds,omitempty"`
	FastMode              *bool    `json:"fast_mode,omitempty"`
}

// UpdateConfig applies the partial update. A frame-rate change while
// running reschedules the ticker in place without losing run state.
func (w *Watcher) UpdateConfig(u ConfigUpdate) config.WatcherConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	if u.Enabled != nil {
		w.cfg.Enabled = *u.Enabled
	}
	if u.FPS != nil && *u.FPS > 0 && *u.FPS != w.cfg.FPS {
		w.cfg.FPS = *u.FPS
		if w.state != StateStopped && w.ticker != nil {
			w.ticker.Reset(w.intervalLocked())
			log.Printf("watcher: rescheduled to %.2f fps", w.cfg.FPS)
		}
	}
	if u.MaxRetries != nil && *u.MaxRetries > 0 {
		w.cfg.MaxRetries = *u.MaxRetries
	}
	if u.RetryDelaySeconds != nil && *u.RetryDelaySeconds > 0 {
		w.cfg.RetryDelaySeconds = *u.RetryDelaySeconds
	}
	if u.CaptureTimeoutSeconds != nil && *u.CaptureTimeoutSeconds > 0 {
		w.cfg.CaptureTimeoutSeconds = *u.CaptureTimeoutSeconds
	}
	if u.FastMode != nil {
		w.cfg.FastMode = *u.FastMode
	}
	return w.cfg
}

func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{
		State:           w.state,
		FPS:             w.cfg.FPS,
		FastMode:        w.cfg.FastMode,
		Captures:        w.captures,
		Failures:        w.failures,
		SkippedNoChange: w.skippedNoChange,
		SkippedPaused:   w.skippedPaused,
		SkippedNoWindow: w.skippedNoWindow,
		ErrorCount:      w.errorCount,
		LastCaptureAt:   w.lastCaptureAt,
		LastScreenID:    w.lastScreenID,
		LastSummary:     w.lastSummary,
	}
	if w.captures > 0 {
		s.AvgProcessingMs = float64(w.totalProcessing.Milliseconds()) / float64(w.captures)
	}
	return s
}

func (w *Watcher) run(ticker *time.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			w.runTick()
		}
	}
}

// runTick is the per-tick entry. Ticks fired while paused or disabled
// are counted and dropped before any capture work starts.
func (w *Watcher) runTick() {
	w.mu.Lock()
	if w.state != StateRunning || !w.cfg.Enabled {
		w.skippedPaused++
		w.mu.Unlock()
		capturesTotal.WithLabelValues(OutcomeSkippedPaused).Inc()
		return
	}
	w.mu.Unlock()

	res, err := w.performCapture(context.Background(), false)
	if err != nil {
		w.recordFailure(err)
		return
	}
	w.recordSuccess(res)
}

// performCapture runs one capture-to-index cycle. With force set it
// skips the change gate. The detector baseline advances only after a
// successful index write, forced or not, so a cycle that fails
// downstream of the gate leaves the previous baseline in place and the
// next tick retries the still-unindexed content.
func (w *Watcher) performCapture(ctx context.Context, force bool) (*CycleResult, error) {
	w.captureMu.Lock()
	defer w.captureMu.Unlock()

	w.mu.Lock()
	timeout := time.Duration(w.cfg.CaptureTimeoutSeconds) * time.Second
	fastMode := w.cfg.FastMode
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()

	frame, err := w.providers.Capture.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("capture: %w", err)
	}

	if !force {
		gate := w.change.HasChanged(frame)
		if !gate.Changed {
			return &CycleResult{Outcome: OutcomeSkippedNoChange, ChangePercent: gate.ChangePercent}, nil
		}
	}

	var win *vision.ActiveWindow
	if w.providers.Windows != nil {
		win, err = w.providers.Windows.ActiveWindow(ctx)
		if errors.Is(err, vision.ErrNoActiveWindow) {
			return &CycleResult{Outcome: OutcomeSkippedNoWindow}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("active window: %w", err)
		}
	}

	// Fast mode keeps background ticks cheap: OCR only, no detector.
	// Forced captures always run the full pipeline.
	var detections []vision.Detection
	if w.providers.Detector != nil && (!fastMode || force) {
		detections, err = w.providers.Detector.Detect(ctx, frame)
		if err != nil {
			return nil, fmt.Errorf("detect: %w", err)
		}
	}

	var ocr *vision.OCRResult
	if w.providers.OCR != nil {
		ocr, err = w.providers.OCR.Analyze(ctx, frame)
		if err != nil {
			// OCR degrades to an empty contribution.
			log.Printf("watcher: ocr failed, continuing without text: %v", err)
			ocr = nil
		}
	}

	ss := w.builder.Build(frame, win, detections, ocr)
	if err := w.index.IndexScreenState(ctx, ss); err != nil {
		return nil, err
	}
	w.change.Observe(frame)

	if w.frames != nil {
		if err := w.frames.Save(ss.ID, frame.PNG); err != nil {
			log.Printf("watcher: frame archive write failed: %v", err)
		}
	}

	return &CycleResult{
		Outcome:   OutcomeIndexed,
		ScreenID:  ss.ID,
		App:       ss.App,
		Summary:   ss.Description,
		NodeCount: len(ss.Nodes),
		Duration:  time.Since(started),
	}, nil
}

func (w *Watcher) recordSuccess(res *CycleResult) {
	w.mu.Lock()
	defer w.mu.Unlock()
	capturesTotal.WithLabelValues(res.Outcome).Inc()
	switch res.Outcome {
	case OutcomeIndexed:
		w.captures++
		w.errorCount = 0
		watcherErrors.Set(0)
		w.lastCaptureAt = time.Now().UnixMilli()
		w.lastScreenID = res.ScreenID
		w.lastSummary = res.Summary
		w.totalProcessing += res.Duration
		captureDuration.Observe(res.Duration.Seconds())
		indexedNodes.Add(float64(res.NodeCount))
	case OutcomeSkippedNoChange:
		w.skippedNoChange++
	case OutcomeSkippedNoWindow:
		w.skippedNoWindow++
	}
}

// recordFailure counts a failed tick and, at the retry threshold,
// pauses the watcher with a scheduled self-resume. The error never
// escapes the loop; backoff is the containment.
func (w *Watcher) recordFailure(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures++
	w.errorCount++
	watcherErrors.Set(float64(w.errorCount))
	capturesTotal.WithLabelValues(OutcomeFailed).Inc()
	log.Printf("watcher: capture failed (%d/%d): %v", w.errorCount, w.cfg.MaxRetries, err)

	if w.errorCount >= w.cfg.MaxRetries && w.state == StateRunning {
		delay := time.Duration(w.cfg.RetryDelaySeconds) * time.Second
		w.state = StatePaused
		w.errorPaused = true
		w.resumeTimer = time.AfterFunc(delay, w.autoResume)
		log.Printf("watcher: %d consecutive failures, pausing for %s", w.errorCount, delay)
	}
}

// autoResume fires after the backoff delay. A manual Pause or Stop in
// the meantime wins; only an error-triggered pause resumes itself.
func (w *Watcher) autoResume() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StatePaused || !w.errorPaused {
		return
	}
	w.state = StateRunning
	w.errorPaused = false
	w.errorCount = 0
	w.resumeTimer = nil
	watcherErrors.Set(0)
	log.Printf("watcher: resuming after backoff")
}

func (w *Watcher) intervalLocked() time.Duration {
	return time.Duration(float64(time.Second) / w.cfg.FPS)
}
