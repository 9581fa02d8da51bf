package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"cdr.dev/slog/v3"
	"github.com/coder/quartz"

	"github.com/zhouzirui/cobuild/backend/internal/model/build"
)

const DefaultSnapshotInterval = 30 * time.Second

// Snapshot is the durable copy of one project at a point in time.
type Snapshot struct {
	ProjectID string
	Document  build.Document
	Threads   build.Threads
	TakenAt   time.Time
}

// SnapshotSink receives periodic snapshots, typically a document database.
type SnapshotSink interface {
	WriteSnapshots(ctx context.Context, snapshots []Snapshot) error
}

// Snapshotter wraps a Store and copies every project written through it to a
// SnapshotSink on a fixed interval. Durability is limited to the last
// successful flush.
type Snapshotter struct {
	Store

	sink     SnapshotSink
	logger   slog.Logger
	clock    quartz.Clock
	interval time.Duration

	mu    sync.Mutex
	dirty map[string]struct{}
}

// NewSnapshotter decorates inner. A non-positive interval selects
// DefaultSnapshotInterval.
func NewSnapshotter(inner Store, sink SnapshotSink, logger slog.Logger, clock quartz.Clock, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = DefaultSnapshotInterval
	}
	return &Snapshotter{
		Store:    inner,
		sink:     sink,
		logger:   logger.Named("snapshots"),
		clock:    clock,
		interval: interval,
		dirty:    make(map[string]struct{}),
	}
}

func (s *Snapshotter) PutDocument(ctx context.Context, projectID string, doc build.Document) error {
	if err := s.Store.PutDocument(ctx, projectID, doc); err != nil {
		return err
	}
	s.markDirty(projectID)
	return nil
}

func (s *Snapshotter) PutThreads(ctx context.Context, projectID string, threads build.Threads) error {
	if err := s.Store.PutThreads(ctx, projectID, threads); err != nil {
		return err
	}
	s.markDirty(projectID)
	return nil
}

func (s *Snapshotter) markDirty(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.dirty[id] = struct{}{}
	}
}

// Pending returns the ids of projects written since the last flush.
func (s *Snapshotter) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Flush writes every dirty project to the sink. Projects that could not be
// read or written stay dirty for the next flush.
func (s *Snapshotter) Flush(ctx context.Context) error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.dirty))
	for id := range s.dirty {
		ids = append(ids, id)
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)

	now := s.clock.Now()
	snapshots := make([]Snapshot, 0, len(ids))
	var failed []string
	for _, id := range ids {
		doc, err := s.Store.GetDocument(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "read document for snapshot", slog.F("project", id), slog.Error(err))
			failed = append(failed, id)
			continue
		}
		threads, err := s.Store.GetThreads(ctx, id)
		if err != nil {
			s.logger.Warn(ctx, "read threads for snapshot", slog.F("project", id), slog.Error(err))
			failed = append(failed, id)
			continue
		}
		snapshots = append(snapshots, Snapshot{ProjectID: id, Document: doc, Threads: threads, TakenAt: now})
	}
	s.markDirty(failed...)

	if len(snapshots) == 0 {
		return nil
	}
	if err := s.sink.WriteSnapshots(ctx, snapshots); err != nil {
		for _, snap := range snapshots {
			s.markDirty(snap.ProjectID)
		}
		return err
	}
	s.logger.Debug(ctx, "wrote snapshots", slog.F("count", len(snapshots)))
	return nil
}

// Run flushes on every interval until ctx is done.
func (s *Snapshotter) Run(ctx context.Context) quartz.Waiter {
	return s.clock.TickerFunc(ctx, s.interval, func() error {
		if err := s.Flush(ctx); err != nil {
			s.logger.Error(ctx, "flush snapshots", slog.Error(err))
		}
		return nil
	}, "snapshots", "flush")
}
