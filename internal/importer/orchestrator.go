package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"kiln/internal/asyncio"
	"kiln/internal/cas"
	"kiln/internal/catalog"
	"kiln/internal/config"
	"kiln/internal/cook"
	"kiln/internal/dispatch"
	"kiln/internal/logging"
	"kiln/internal/manifest"
	"kiln/internal/pipeline"
	"kiln/internal/plan"
)

// JobID identifies one submitted import. Ids are assigned monotonically;
// InvalidJob is never assigned.
type JobID int64

// InvalidJob is returned when a submission is rejected.
const InvalidJob JobID = 0

// Request describes one import batch.
type Request struct {
	// Manifest is the parsed batch. When nil, ManifestPath is loaded.
	Manifest     *manifest.Manifest
	ManifestPath string
	// OutputRoot overrides the configured output root when set.
	OutputRoot string
}

// Report is the terminal result delivered to the completion callback. It
// always carries the full diagnostic list so partial successes stay
// inspectable.
type Report struct {
	CookedRoot  string
	Success     bool
	Diagnostics []cook.Diagnostic
}

// ProgressEvent is one coarse progress update for a running job.
type ProgressEvent struct {
	Job      JobID
	Fraction float64
}

// Callbacks are never invoked from the submitting goroutine. OnComplete and
// OnCancel run on the orchestrator's dedicated goroutine; OnProgress is
// delivered in order from a single per-job forwarder goroutine, so no two
// callback invocations for a job ever run concurrently. Callers must not
// block inside them.
type Callbacks struct {
	OnComplete func(JobID, Report)
	OnProgress func(ProgressEvent)
	OnCancel   func(JobID)
}

type jobState int

const (
	statePending jobState = iota
	stateStarted
)

type job struct {
	id        JobID
	request   Request
	callbacks Callbacks
	state     jobState
	cancelled bool
	cancel    context.CancelFunc // set while started
}

// Orchestrator owns the import lifecycle: a dedicated goroutine executes
// jobs one at a time, callers interact through submission and cancellation
// calls that never block on cooking work.
type Orchestrator struct {
	cfg    *config.Config
	store  *catalog.Store
	logger *slog.Logger

	mu       sync.Mutex
	// jobs holds queued and running entries only; terminal jobs are
	// deleted so the map stays bounded by the backlog.
	jobs     map[JobID]*job
	nextID   JobID
	shutdown bool
	closed   bool

	mailbox chan JobID
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCatalog attaches a persistent cook catalog. The orchestrator records
// emitted resources and job history, and preloads aggregators on each run.
func WithCatalog(store *catalog.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// queuedJobLimit bounds the submission backlog; submissions beyond it are
// rejected rather than blocking the caller.
const queuedJobLimit = 128

// New starts an orchestrator and its dedicated goroutine.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "importer"),
		jobs:    make(map[JobID]*job),
		mailbox: make(chan JobID, queuedJobLimit),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.wg.Add(1)
	go o.run()
	return o
}

// SubmitImport queues a job and returns its id, or InvalidJob if shutdown
// has been requested or the backlog is full.
func (o *Orchestrator) SubmitImport(request Request, callbacks Callbacks) JobID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.shutdown {
		return InvalidJob
	}
	o.nextID++
	id := o.nextID
	entry := &job{id: id, request: request, callbacks: callbacks, state: statePending}

	// Non-blocking enqueue under the lock: Shutdown closes the mailbox only
	// after setting the shutdown flag under the same lock.
	select {
	case o.mailbox <- id:
		o.jobs[id] = entry
		return id
	default:
		return InvalidJob
	}
}

// CancelJob requests cancellation of one job. Queued jobs are removed
// without cooking; started jobs observe the cooperative flag at the next
// submission boundary. Returns false for unknown or finished jobs.
func (o *Orchestrator) CancelJob(id JobID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cancelLocked(id)
}

// CancelAll requests cancellation of every tracked job.
func (o *Orchestrator) CancelAll() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id := range o.jobs {
		o.cancelLocked(id)
	}
}

func (o *Orchestrator) cancelLocked(id JobID) bool {
	entry, ok := o.jobs[id]
	if !ok {
		return false
	}
	if entry.cancelled {
		return true
	}
	entry.cancelled = true
	if entry.cancel != nil {
		entry.cancel()
	}
	return true
}

// RequestShutdown stops accepting new submissions; queued and running jobs
// drain normally.
func (o *Orchestrator) RequestShutdown() {
	o.mu.Lock()
	o.shutdown = true
	o.mu.Unlock()
}

// Shutdown cancels everything outstanding and joins the dedicated
// goroutine.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	o.shutdown = true
	for id := range o.jobs {
		o.cancelLocked(id)
	}
	if !o.closed {
		o.closed = true
		close(o.mailbox)
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// IsJobActive reports whether a job is queued or running.
func (o *Orchestrator) IsJobActive(id JobID) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.jobs[id]
	return ok
}

// PendingJobCount reports jobs queued but not yet started.
func (o *Orchestrator) PendingJobCount() int {
	return o.countState(statePending)
}

// InFlightJobCount reports jobs currently cooking.
func (o *Orchestrator) InFlightJobCount() int {
	return o.countState(stateStarted)
}

func (o *Orchestrator) countState(state jobState) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	count := 0
	for _, entry := range o.jobs {
		if entry.state == state {
			count++
		}
	}
	return count
}

// run is the dedicated goroutine: it executes queued jobs sequentially and
// invokes every caller callback.
func (o *Orchestrator) run() {
	defer o.wg.Done()
	for id := range o.mailbox {
		o.mu.Lock()
		entry, ok := o.jobs[id]
		if !ok {
			o.mu.Unlock()
			continue
		}
		if entry.cancelled {
			delete(o.jobs, id)
			o.mu.Unlock()
			if entry.callbacks.OnCancel != nil {
				entry.callbacks.OnCancel(id)
			}
			continue
		}
		ctx, cancel := context.WithCancel(context.Background())
		entry.state = stateStarted
		entry.cancel = cancel
		request := entry.request
		callbacks := entry.callbacks
		o.mu.Unlock()

		report, cancelled := o.execute(ctx, id, request, callbacks)
		cancel()

		// Terminal: drop the entry so the map tracks only live jobs. The
		// deletion precedes the callback, so cancellation attempts racing
		// completion observe a consistent "unknown job" answer.
		o.mu.Lock()
		delete(o.jobs, id)
		o.mu.Unlock()

		if cancelled {
			if callbacks.OnCancel != nil {
				callbacks.OnCancel(id)
			}
			continue
		}
		if callbacks.OnComplete != nil {
			callbacks.OnComplete(id, report)
		}
	}
}

// execute runs one import end to end on the dedicated goroutine.
func (o *Orchestrator) execute(ctx context.Context, id JobID, request Request, callbacks Callbacks) (Report, bool) {
	sessionID := uuid.NewString()
	logger := o.logger.With(
		logging.Int64(logging.FieldJobID, int64(id)),
		logging.String(logging.FieldCorrelationID, sessionID),
	)

	outputRoot := request.OutputRoot
	if outputRoot == "" {
		outputRoot = o.cfg.Paths.OutputRoot
	}
	report := Report{CookedRoot: outputRoot}

	m := request.Manifest
	if m == nil {
		loaded, err := manifest.Load(request.ManifestPath)
		if err != nil {
			report.Diagnostics = append(report.Diagnostics,
				cook.Errorf(cook.CodeValidation, request.ManifestPath, "", "%v", err))
			return report, false
		}
		m = loaded
	}

	if err := os.MkdirAll(outputRoot, 0o755); err != nil {
		report.Diagnostics = append(report.Diagnostics,
			cook.Errorf(cook.CodeIOFailure, outputRoot, "", "create output root: %v", err))
		return report, false
	}

	// One cooker per output root at a time; the data files are append-only
	// and offsets come from a per-run counter.
	lock := flock.New(filepath.Join(outputRoot, ".kiln.lock"))
	locked, err := lock.TryLock()
	if err == nil && !locked {
		err = fmt.Errorf("output root is locked by another cooker")
	}
	if err != nil {
		report.Diagnostics = append(report.Diagnostics,
			cook.Errorf(cook.CodeIOFailure, outputRoot, "", "lock output root: %v", err))
		return report, false
	}
	defer func() { _ = lock.Unlock() }()

	if o.store != nil {
		if err := o.store.BeginJob(ctx, sessionID, manifestSource(request)); err != nil {
			logger.Warn("catalog job insert failed", logging.Error(err))
		}
	}

	packing, err := cas.ParsePackingPolicy(o.cfg.Output.Packing)
	if err != nil {
		packing = cas.PackingAligned
	}
	// All entries in a shared data file must agree on row padding, so the
	// configured policy wins over per-job tuning.
	for _, jobSpec := range m.Jobs {
		if jobSpec.Packing != "" && jobSpec.Packing != o.cfg.Output.Packing {
			report.Diagnostics = append(report.Diagnostics,
				cook.Warnf(cook.CodeValidation, jobSpec.Source, "",
					"packing %q is ignored, output files use %q", jobSpec.Packing, o.cfg.Output.Packing))
		}
	}
	writer := asyncio.NewWriter(threadPoolSize(o.cfg, m), logger)
	defer writer.Close()
	env := cook.NewEnvironment(outputRoot, int64(o.cfg.Output.Alignment), packing, writer, logger)
	o.restoreAggregators(ctx, env, logger)

	planner, planDiags := buildPlan(m)
	report.Diagnostics = append(report.Diagnostics, planDiags...)
	planner.MakePlan()

	logger.Info("job started",
		logging.String(logging.FieldEventType, "job_started"),
		logging.Int("plan_items", planner.Len()),
	)

	summary := dispatch.New(env, stageConfigs(o.cfg, m), logger).Run(ctx, planner, dispatch.Options{
		OnProgress: func(fraction float64) {
			if callbacks.OnProgress != nil {
				callbacks.OnProgress(ProgressEvent{Job: id, Fraction: fraction})
			}
		},
	})
	report.Diagnostics = append(report.Diagnostics, summary.Diagnostics...)

	if err := writer.Flush(context.Background()); err != nil {
		report.Diagnostics = append(report.Diagnostics,
			cook.Errorf(cook.CodeIOFailure, outputRoot, "", "flush cooked data: %v", err))
	}

	cancelled := ctx.Err() != nil
	report.Success = !cancelled && summary.Success() && !cook.HasErrors(report.Diagnostics)

	if o.store != nil {
		o.recordRun(env, logger)
		status := catalog.JobSucceeded
		switch {
		case cancelled:
			status = catalog.JobCancelled
		case !report.Success:
			status = catalog.JobFailed
		}
		if err := o.store.FinishJob(context.Background(), sessionID, status, countErrors(report.Diagnostics)); err != nil {
			logger.Warn("catalog job update failed", logging.Error(err))
		}
	}

	logger.Info("job finished",
		logging.String(logging.FieldEventType, "job_finished"),
		logging.Bool("success", report.Success),
		logging.Bool("cancelled", cancelled),
		logging.Int("diagnostics", len(report.Diagnostics)),
	)
	return report, cancelled
}

func (o *Orchestrator) restoreAggregators(ctx context.Context, env *cook.Environment, logger *slog.Logger) {
	if o.store == nil {
		return
	}
	restore := func(kind catalog.ResourceKind, aggregator *cas.Aggregator, decode func([]byte) (any, error)) {
		count, err := o.store.RestoreInto(ctx, kind, aggregator, decode)
		if err != nil {
			logger.Warn("catalog restore failed",
				logging.String(logging.FieldKind, string(kind)),
				logging.Error(err),
			)
			return
		}
		if count > 0 {
			logger.Info("catalog entries restored",
				logging.String(logging.FieldKind, string(kind)),
				logging.Int("count", count),
			)
		}
	}
	restore(catalog.KindTexture, env.Textures, cook.DecodeTextureDescriptor)
	restore(catalog.KindBuffer, env.Buffers, cook.DecodeBufferDescriptor)
}

func (o *Orchestrator) recordRun(env *cook.Environment, logger *slog.Logger) {
	record := func(kind catalog.ResourceKind, aggregator *cas.Aggregator) {
		for _, entry := range aggregator.Entries() {
			if err := o.store.RecordEntry(context.Background(), kind, entry); err != nil {
				logger.Warn("catalog record failed",
					logging.String(logging.FieldKind, string(kind)),
					logging.Error(err),
				)
				return
			}
		}
	}
	record(catalog.KindTexture, env.Textures)
	record(catalog.KindBuffer, env.Buffers)
}

func threadPoolSize(cfg *config.Config, m *manifest.Manifest) int {
	if m.ThreadPoolSize > 0 {
		return m.ThreadPoolSize
	}
	return cfg.Cooking.ThreadPoolSize
}

// stageConfigs resolves per-kind stage sizing: manifest overrides win over
// the config file.
func stageConfigs(cfg *config.Config, m *manifest.Manifest) map[plan.Kind]pipeline.Config {
	fromConfig := func(sc config.StageConcurrency) pipeline.Config {
		return pipeline.Config{Workers: sc.Workers, QueueCapacity: sc.QueueCapacity}
	}
	configs := map[plan.Kind]pipeline.Config{
		plan.KindTextureResource: fromConfig(cfg.Cooking.Texture),
		plan.KindBufferResource:  fromConfig(cfg.Cooking.Buffer),
		plan.KindMaterialAsset:   fromConfig(cfg.Cooking.Material),
		plan.KindMeshBuild:       fromConfig(cfg.Cooking.Geometry),
		plan.KindGeometryAsset:   fromConfig(cfg.Cooking.Geometry),
		plan.KindSceneAsset:      fromConfig(cfg.Cooking.Scene),
	}
	overrides := map[string][]plan.Kind{
		"texture":  {plan.KindTextureResource},
		"buffer":   {plan.KindBufferResource},
		"material": {plan.KindMaterialAsset},
		"geometry": {plan.KindMeshBuild, plan.KindGeometryAsset},
		"scene":    {plan.KindSceneAsset},
	}
	for name, concurrency := range m.Concurrency {
		for _, kind := range overrides[name] {
			configs[kind] = pipeline.Config{
				Workers:       concurrency.Workers,
				QueueCapacity: concurrency.QueueCapacity,
			}
		}
	}
	return configs
}

func manifestSource(request Request) string {
	if request.ManifestPath != "" {
		return request.ManifestPath
	}
	return "(inline manifest)"
}

func countErrors(diags []cook.Diagnostic) int {
	count := 0
	for _, diag := range diags {
		if diag.Severity == cook.SeverityError {
			count++
		}
	}
	return count
}
