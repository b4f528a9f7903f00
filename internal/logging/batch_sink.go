package logging

import (
	"context"
	"sync"
	"time"

	"llm_chat/internal/config"
	"llm_chat/internal/utils"
)

// BatchSink buffers records in memory and hands them to a BatchWriter when
// a batch fills up or the flush interval elapses.
type BatchSink struct {
	writer        BatchWriter
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration

	mu     sync.Mutex
	closed bool

	recCh  chan *TurnRecord
	doneCh chan struct{}
	wg     sync.WaitGroup
	logger *utils.Logger
}

// NewBatchSink starts the background flusher
func NewBatchSink(writer BatchWriter, cfg config.TurnLogConfig) *BatchSink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}

	s := &BatchSink{
		writer:        writer,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		writeTimeout:  30 * time.Second,
		recCh:         make(chan *TurnRecord, cfg.BufferSize),
		doneCh:        make(chan struct{}),
		logger:        utils.NewLogger("turn-log"),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Enqueue queues rec without blocking. A full buffer drops the record.
func (s *BatchSink) Enqueue(rec *TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}

	select {
	case s.recCh <- rec:
		return nil
	default:
		return ErrSinkFull
	}
}

func (s *BatchSink) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	batch := make([]*TurnRecord, 0, s.batchSize)
	for {
		select {
		case rec := <-s.recCh:
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				batch = s.flush(batch)
			}
		case <-ticker.C:
			batch = s.flush(batch)
		case <-s.doneCh:
			for {
				select {
				case rec := <-s.recCh:
					batch = append(batch, rec)
				default:
					s.flush(batch)
					return
				}
			}
		}
	}
}

func (s *BatchSink) flush(batch []*TurnRecord) []*TurnRecord {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	if _, err := s.writer.WriteBatch(ctx, batch); err != nil {
		s.logger.Error("Failed to write turn batch", "count", len(batch), "error", err)
	}
	return batch[:0]
}

// Close flushes buffered records and stops the flusher
func (s *BatchSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.doneCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
