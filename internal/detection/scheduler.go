package detection

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"

	"github.com/vigil-sec/vigil/internal/camera"
)

const (
	idleRecheck      = time.Second
	identityCacheTTL = 5 * time.Minute
)

// Annotator draws detections onto a copy of the frame. The input
// frame is never touched.
type Annotator func(frame *camera.Frame, detections []Detection) *camera.Frame

// SchedulerConfig configures the detection loop
type SchedulerConfig struct {
	Interval         time.Duration // target cadence, independent of capture rate
	FrameTimeout     time.Duration // per-iteration frame wait
	MaxFrameTimeouts int           // consecutive timeouts before the camera is considered lost
	IdentityTimeout  time.Duration // hard deadline for the stage-2 check
	CacheSize        int           // bounded identity-result cache entries
}

func (c *SchedulerConfig) setDefaults() {
	if c.Interval == 0 {
		c.Interval = 200 * time.Millisecond
	}
	if c.FrameTimeout == 0 {
		c.FrameTimeout = 500 * time.Millisecond
	}
	if c.MaxFrameTimeouts == 0 {
		c.MaxFrameTimeouts = 10
	}
	if c.IdentityTimeout == 0 {
		c.IdentityTimeout = 3 * time.Second
	}
	if c.CacheSize == 0 {
		c.CacheSize = 5
	}
}

// Scheduler runs the two-stage classification pipeline at a fixed
// cadence while the alarm gate allows it, and decides escalation
type Scheduler struct {
	cfg       SchedulerConfig
	frames    FrameProvider
	primary   PrimaryClassifier
	identity  IdentityClassifier // optional
	gate      AlarmGate
	alertSink AlertSink
	evidence  EvidenceSink
	publisher Publisher // optional
	recorder  Recorder  // optional
	annotate  Annotator
	logger    *slog.Logger

	// Bounded cache of completed identity checks keyed by request id.
	// Late results land here instead of being discarded.
	idCache   *gocache.Cache
	idCacheMu sync.Mutex
	idKeys    []string

	mu       sync.RWMutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	viewable *camera.Frame

	totalDetections  atomic.Uint64
	personDetections atomic.Uint64
	animalDetections atomic.Uint64
	lastDetection    atomic.Int64 // unix nanos, 0 = never
	loopNanos        atomic.Int64 // duration of the last full iteration
}

// NewScheduler creates the detection scheduler. The identity
// classifier, publisher and recorder may be nil.
func NewScheduler(cfg SchedulerConfig, frames FrameProvider, primary PrimaryClassifier, identity IdentityClassifier, gate AlarmGate, alertSink AlertSink, evidence EvidenceSink, opts ...SchedulerOption) *Scheduler {
	cfg.setDefaults()
	s := &Scheduler{
		cfg:       cfg,
		frames:    frames,
		primary:   primary,
		identity:  identity,
		gate:      gate,
		alertSink: alertSink,
		evidence:  evidence,
		annotate:  DrawDetections,
		idCache:   gocache.New(identityCacheTTL, identityCacheTTL),
		logger:    slog.Default().With("component", "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SchedulerOption customizes optional collaborators
type SchedulerOption func(*Scheduler)

// WithPublisher mirrors detections onto the event bus
func WithPublisher(p Publisher) SchedulerOption {
	return func(s *Scheduler) { s.publisher = p }
}

// WithRecorder persists detections to the event store
func WithRecorder(r Recorder) SchedulerOption {
	return func(s *Scheduler) { s.recorder = r }
}

// WithAnnotator replaces the frame annotator
func WithAnnotator(a Annotator) SchedulerOption {
	return func(s *Scheduler) { s.annotate = a }
}

// Usable reports whether a primary classifier is loaded. The alarm
// machine arms in degraded mode when this is false.
func (s *Scheduler) Usable() bool {
	return s.primary != nil && s.primary.Loaded()
}

// Start launches the detection loop goroutine
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.run(s.stopCh, s.doneCh)
	s.logger.Info("Detection loop started", "interval", s.cfg.Interval)
	return nil
}

// Stop signals the loop and joins with a bounded wait. Returns false
// when the join timed out; the caller proceeds regardless.
func (s *Scheduler) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return true
	}
	s.running = false
	stopCh, doneCh := s.stopCh, s.doneCh
	s.mu.Unlock()

	close(stopCh)
	select {
	case <-doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

// run is the detection loop
func (s *Scheduler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	frameTimeouts := 0
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		// Gate: classify only while armed or alarming
		if !s.gate.DetectionActive() {
			select {
			case <-stopCh:
				return
			case <-time.After(idleRecheck):
			}
			continue
		}

		iterStart := time.Now()

		frame, ok := s.frames.GetFrame(s.cfg.FrameTimeout)
		if !ok {
			frameTimeouts++
			if frameTimeouts >= s.cfg.MaxFrameTimeouts {
				// Camera considered lost: fatal, loop halts
				s.logger.Error("Sustained frame loss", "consecutive_timeouts", frameTimeouts)
				s.gate.SetError("sustained frame loss")
				s.mu.Lock()
				s.running = false
				s.mu.Unlock()
				return
			}
			continue
		}
		frameTimeouts = 0

		if !s.iterate(frame, stopCh) {
			return
		}

		elapsed := time.Since(iterStart)
		s.loopNanos.Store(int64(elapsed))
		if remainder := s.cfg.Interval - elapsed; remainder > 0 {
			select {
			case <-stopCh:
				return
			case <-time.After(remainder):
			}
		}
	}
}

// iterate runs one classification pass. Classifier failures are
// absorbed here; only shutdown stops the loop (returns false).
func (s *Scheduler) iterate(frame *camera.Frame, stopCh chan struct{}) bool {
	result, err := s.primary.Detect(frame, false)
	if err != nil {
		// Treated as no detection this iteration
		s.logger.Warn("Primary classifier failed", "error", err)
		return true
	}

	if result.PersonCount == 0 && result.AnimalCount == 0 {
		s.setViewable(frame)
		return true
	}

	s.recordCounts(result)

	if result.PersonCount == 0 {
		// Animals only: annotate, publish, low-severity alert and
		// snapshot; no alarm and no identity check
		annotated := s.annotate(frame, result.Detections)
		s.setViewable(annotated)
		s.evidence.Save(ClassAnimal, frame)
		s.alertSink.Enqueue(result.AlertLevel, detectionMessage(result), annotated)
		s.mirror(result)
		return true
	}

	if s.identity != nil && s.identity.Loaded() {
		return s.confirmIdentity(frame, result, stopCh)
	}

	s.escalate(frame, result, s.annotate(frame, result.Detections))
	return true
}

// confirmIdentity runs the stage-2 check as a detached unit of work
// against a frame snapshot, bounded by the identity timeout.
// Fail-closed: no verdict in time means escalation.
func (s *Scheduler) confirmIdentity(frame *camera.Frame, result *Result, stopCh chan struct{}) bool {
	requestID := uuid.New().String()
	snapshot := frame.Clone()
	resultCh := make(chan *IdentityResult, 1)

	go func() {
		idResult, err := s.identity.Detect(snapshot, true)
		if err != nil {
			s.logger.Warn("Identity classifier failed", "request_id", requestID, "error", err)
			resultCh <- nil
			return
		}
		resultCh <- idResult
	}()

	select {
	case idResult := <-resultCh:
		s.cacheIdentity(requestID, idResult)
		if idResult != nil && idResult.AuthorizedDetected && idResult.UnknownCount == 0 {
			// Authorized only: suppress escalation entirely
			s.logger.Info("Authorized person confirmed", "names", idResult.AuthorizedNames)
			if idResult.Annotated != nil {
				s.setViewable(idResult.Annotated)
			} else {
				s.setViewable(frame)
			}
			return true
		}
		annotated := s.annotate(frame, result.Detections)
		if idResult != nil && idResult.Annotated != nil {
			annotated = idResult.Annotated
		}
		s.escalate(frame, result, annotated)
		return true

	case <-time.After(s.cfg.IdentityTimeout):
		// The sub-task keeps running detached; its late result is
		// cached, not awaited
		s.logger.Warn("Identity check timed out, escalating", "request_id", requestID)
		go func() {
			s.cacheIdentity(requestID, <-resultCh)
		}()
		s.escalate(frame, result, s.annotate(frame, result.Detections))
		return true

	case <-stopCh:
		return false
	}
}

// escalate triggers the alarm, requests evidence snapshots and
// enqueues the alert
func (s *Scheduler) escalate(frame *camera.Frame, result *Result, annotated *camera.Frame) {
	if err := s.gate.TriggerAlarm(); err != nil {
		// Already alarming: escalation continues with alert + evidence
		s.logger.Debug("Alarm trigger skipped", "reason", err)
	}

	if result.PersonCount > 0 {
		s.evidence.Save(ClassPerson, frame)
	}
	if result.AnimalCount > 0 {
		s.evidence.Save(ClassAnimal, frame)
	}

	if annotated == nil {
		annotated = frame
	}
	s.setViewable(annotated)
	s.alertSink.Enqueue(result.AlertLevel, detectionMessage(result), annotated)
	s.mirror(result)
}

// mirror publishes the detection to the bus and the event store
func (s *Scheduler) mirror(result *Result) {
	if s.publisher != nil {
		s.publisher.Publish("vigil.detection", map[string]interface{}{
			"type":         string(result.Type),
			"alert_level":  result.AlertLevel.String(),
			"person_count": result.PersonCount,
			"animal_count": result.AnimalCount,
			"at":           time.Now(),
		})
	}
	if s.recorder != nil {
		s.recorder.RecordDetection(result)
	}
}

// recordCounts updates detection statistics
func (s *Scheduler) recordCounts(result *Result) {
	s.totalDetections.Add(1)
	if result.PersonCount > 0 {
		s.personDetections.Add(1)
	}
	if result.AnimalCount > 0 {
		s.animalDetections.Add(1)
	}
	s.lastDetection.Store(time.Now().UnixNano())
}

// cacheIdentity stores a completed identity result, evicting the
// oldest entry beyond the configured bound
func (s *Scheduler) cacheIdentity(requestID string, result *IdentityResult) {
	if result == nil {
		return
	}
	s.idCacheMu.Lock()
	defer s.idCacheMu.Unlock()

	s.idCache.Set(requestID, result, gocache.DefaultExpiration)
	s.idKeys = append(s.idKeys, requestID)
	for len(s.idKeys) > s.cfg.CacheSize {
		s.idCache.Delete(s.idKeys[0])
		s.idKeys = s.idKeys[1:]
	}
}

// CachedIdentity returns a completed identity check by request id
func (s *Scheduler) CachedIdentity(requestID string) (*IdentityResult, bool) {
	v, ok := s.idCache.Get(requestID)
	if !ok {
		return nil, false
	}
	return v.(*IdentityResult), true
}

// setViewable publishes the latest viewable frame. Single writer;
// readers receive copies via LatestViewable.
func (s *Scheduler) setViewable(frame *camera.Frame) {
	s.mu.Lock()
	s.viewable = frame
	s.mu.Unlock()
}

// LatestViewable returns a copy of the latest published frame, nil
// when nothing has been published yet
func (s *Scheduler) LatestViewable() *camera.Frame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewable.Clone()
}

// Counts returns detection counters since startup
func (s *Scheduler) Counts() (total, person, animal uint64) {
	return s.totalDetections.Load(), s.personDetections.Load(), s.animalDetections.Load()
}

// LastDetection returns when the classifier last saw anything
func (s *Scheduler) LastDetection() (time.Time, bool) {
	nanos := s.lastDetection.Load()
	if nanos == 0 {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// LoopFPS reports the measured cadence of the last iteration
func (s *Scheduler) LoopFPS() float64 {
	nanos := s.loopNanos.Load()
	if nanos == 0 {
		return 0
	}
	period := time.Duration(nanos)
	if period < s.cfg.Interval {
		period = s.cfg.Interval
	}
	return 1 / period.Seconds()
}

// detectionMessage builds the human-readable alert text
func detectionMessage(result *Result) string {
	switch result.Type {
	case TypePerson:
		return fmt.Sprintf("Person detected: %d person(s)", result.PersonCount)
	case TypeAnimal:
		return fmt.Sprintf("Animal detected: %d animal(s)", result.AnimalCount)
	case TypeBoth:
		return fmt.Sprintf("Intrusion detected: %d person(s), %d animal(s)", result.PersonCount, result.AnimalCount)
	default:
		return "No detection"
	}
}
