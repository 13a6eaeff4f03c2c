package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-provider-manager/models"
	"github.com/upb/llm-provider-manager/repositories"
	"github.com/upb/llm-provider-manager/services/tracker"
)

// AuditService exports cost records to the database asynchronously. Records
// are batched per worker and written when the batch is full or the flush
// interval elapses. Export is best effort: a full buffer drops records.
type AuditService struct {
	repo          repositories.CostRecordRepository
	logger        *zap.Logger
	records       chan tracker.CostRecord
	workerCount   int
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	wg            sync.WaitGroup
	started       bool
	stopped       bool
	mu            sync.RWMutex

	exported atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize    int           // Size of the record buffer channel
	WorkerCount   int           // Number of concurrent workers
	BatchSize     int           // Records per insert
	FlushInterval time.Duration // Maximum age of a partial batch
	WriteTimeout  time.Duration // Bound for one batch insert
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:    1000,
		WorkerCount:   2,
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		WriteTimeout:  5 * time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.CostRecordRepository, logger *zap.Logger, config Config) *AuditService {
	d := DefaultConfig()
	if config.BufferSize <= 0 {
		config.BufferSize = d.BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = d.WorkerCount
	}
	if config.BatchSize <= 0 {
		config.BatchSize = d.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = d.FlushInterval
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = d.WriteTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditService{
		repo:          repo,
		logger:        logger,
		records:       make(chan tracker.CostRecord, config.BufferSize),
		workerCount:   config.WorkerCount,
		bufferSize:    config.BufferSize,
		batchSize:     config.BatchSize,
		flushInterval: config.FlushInterval,
		writeTimeout:  config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started cost audit export",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize),
		zap.Int("batch_size", s.batchSize))

	return nil
}

// Stop flushes pending records and stops the workers
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.records)
	s.mu.Unlock()

	s.logger.Info("stopping cost audit export", zap.Int("pending_records", len(s.records)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("cost audit export stopped gracefully",
			zap.Int64("exported", s.exported.Load()),
			zap.Int64("dropped", s.dropped.Load()))
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Enqueue queues a record without blocking
func (s *AuditService) Enqueue(record tracker.CostRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.records <- record:
		return nil
	default:
		s.dropped.Add(1)
		s.logger.Warn("cost record buffer full, dropping record",
			zap.String("record_id", record.ID),
			zap.String("backend", record.Backend))
		return fmt.Errorf("cost record buffer full")
	}
}

// Consume implements tracker.Sink
func (s *AuditService) Consume(record tracker.CostRecord) {
	_ = s.Enqueue(record)
}

// worker batches records from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*models.CostRecord, 0, s.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.write(batch); err != nil {
			s.failed.Add(int64(len(batch)))
			s.logger.Error("failed to export cost records",
				zap.Int("worker_id", id),
				zap.Int("count", len(batch)),
				zap.Error(err))
		} else {
			s.exported.Add(int64(len(batch)))
		}
		batch = make([]*models.CostRecord, 0, s.batchSize)
	}

	for {
		select {
		case record, ok := <-s.records:
			if !ok {
				flush()
				return
			}
			batch = append(batch, models.NewCostRecord(record))
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (s *AuditService) write(batch []*models.CostRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if err := s.repo.InsertBatch(ctx, batch); err != nil {
		return fmt.Errorf("failed to insert cost records: %w", err)
	}
	return nil
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:     s.bufferSize,
		PendingRecords: len(s.records),
		WorkerCount:    s.workerCount,
		Started:        s.started && !s.stopped,
		Exported:       s.exported.Load(),
		Dropped:        s.dropped.Load(),
		Failed:         s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize     int   `json:"buffer_size"`
	PendingRecords int   `json:"pending_records"`
	WorkerCount    int   `json:"worker_count"`
	Started        bool  `json:"started"`
	Exported       int64 `json:"exported"`
	Dropped        int64 `json:"dropped"`
	Failed         int64 `json:"failed"`
}

var _ tracker.Sink = (*AuditService)(nil)
