package session

import (
	"context"
	"os"
	"time"

	"streamscraper/internal/worker"
	"streamscraper/pkg/archive"
	"streamscraper/pkg/checkpoint"
	"streamscraper/pkg/logger"
)

// StatusRecorder mirrors session events into the status snapshot file.
// State changes are saved immediately; record events are batched.
type StatusRecorder struct {
	manager  *checkpoint.Manager
	status   checkpoint.Status
	pathFor  func(key string) string
	every    int64
	interval time.Duration
	logger   logger.Logger

	lastSave    time.Time
	lastRecords int64
}

// StatusRecorderOptions configures a StatusRecorder
type StatusRecorderOptions struct {
	// Base seeds the snapshot with fields the session does not know (mode, rules, log file)
	Base checkpoint.Status
	// PathFor resolves a partition key to its file path
	PathFor func(key string) string
	// Every saves after this many records; zero means 1000
	Every int64
	// Interval saves at least this often while records flow; zero means 30s
	Interval time.Duration
	Logger   logger.Logger
}

// NewStatusRecorder creates a recorder writing through manager
func NewStatusRecorder(manager *checkpoint.Manager, opts StatusRecorderOptions) *StatusRecorder {
	if opts.Every <= 0 {
		opts.Every = 1000
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logger.GetLogger()
	}
	return &StatusRecorder{
		manager:  manager,
		status:   opts.Base,
		pathFor:  opts.PathFor,
		every:    opts.Every,
		interval: opts.Interval,
		logger:   opts.Logger,
	}
}

// OnEvent updates the snapshot and saves it when due
func (r *StatusRecorder) OnEvent(e Event) {
	r.status.State = string(e.Phase)
	r.status.Stats = e.Stats
	r.status.Partition = e.Stats.Partition
	if r.pathFor != nil && e.Stats.Partition != "" {
		r.status.PartitionPath = r.pathFor(e.Stats.Partition)
	}
	r.status.Backoff = &checkpoint.BackoffSnapshot{
		State:   e.Backoff.State.String(),
		Attempt: e.Backoff.Attempt,
		Until:   e.Backoff.Until,
	}
	if e.Backoff.Attempt > 0 || e.Type == EventBackoff {
		r.status.Backoff.Kind = e.Backoff.LastKind.String()
	}
	if e.Err != nil {
		r.status.LastError = e.Err.Error()
	}

	switch e.Type {
	case EventStarted:
		r.status.PID = os.Getpid()
		r.status.StartedAt = e.Stats.StartedAt
		r.status.StoppedAt = time.Time{}
		r.status.LastError = ""
	case EventStopped:
		r.status.StoppedAt = e.Time
	case EventRecord:
		if e.Stats.TotalRecords-r.lastRecords < r.every && e.Time.Sub(r.lastSave) < r.interval {
			return
		}
	case EventDecodeError:
		return
	}
	r.save(e.Time)
}

// Status returns the snapshot as last updated
func (r *StatusRecorder) Status() checkpoint.Status {
	return r.status
}

func (r *StatusRecorder) save(now time.Time) {
	r.lastSave = now
	r.lastRecords = r.status.Stats.TotalRecords
	if err := r.manager.Save(&r.status, now); err != nil {
		r.logger.WithError(err).Warn("Failed to save status file")
	}
}

// ArchiveOnRollover compresses each superseded partition in the background
type ArchiveOnRollover struct {
	archiver *archive.Archiver
	pool     *worker.Pool
	pathFor  func(key string) string
	logger   logger.Logger
}

// NewArchiveOnRollover creates the observer. A nil pool compresses inline.
func NewArchiveOnRollover(archiver *archive.Archiver, pool *worker.Pool, pathFor func(key string) string, log logger.Logger) *ArchiveOnRollover {
	if log == nil {
		log = logger.GetLogger()
	}
	return &ArchiveOnRollover{archiver: archiver, pool: pool, pathFor: pathFor, logger: log}
}

// OnEvent schedules compression of the previous partition after a rollover
func (a *ArchiveOnRollover) OnEvent(e Event) {
	if e.Type != EventRollover || e.Rollover == nil || e.Rollover.Initial() {
		return
	}

	path := a.pathFor(e.Rollover.PreviousKey)
	job := worker.Job{
		Name: "archive:" + e.Rollover.PreviousKey,
		Run: func(context.Context) error {
			_, err := a.archiver.CompressFile(path)
			return err
		},
	}

	if a.pool == nil {
		if err := job.Run(context.Background()); err != nil {
			a.logger.WithError(err).Warn("Failed to archive partition")
		}
		return
	}
	if err := a.pool.TrySubmit(job); err != nil {
		a.logger.WithError(err).WarnWithFields("Archive job not scheduled", map[string]interface{}{
			"partition": e.Rollover.PreviousKey,
		})
	}
}
