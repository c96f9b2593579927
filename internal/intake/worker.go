package intake

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/wolfman30/safeguard/internal/pipeline"
	"github.com/wolfman30/safeguard/pkg/logging"
)

// Analyzer is satisfied by *pipeline.Pipeline.
type Analyzer interface {
	AnalyzeText(ctx context.Context, ev pipeline.TextEvent) pipeline.Result
	AnalyzeImage(ctx context.Context, ev pipeline.ImageEvent) pipeline.Result
	AnalyzePage(ctx context.Context, ev pipeline.PageEvent) pipeline.Result
}

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	maxBackoff           = 5 * time.Second
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		cfg.receiveWaitSecs = min(seconds, maxWaitSeconds)
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 {
			cfg.receiveBatchSize = min(size, maxReceiveBatchSize)
		}
	}
}

// Worker consumes envelopes from a Queue and runs each through the
// analyzer. Every message is deleted after one attempt; analysis already
// degrades to a safe verdict on engine failure, so redelivery would only
// repeat the same result.
type Worker struct {
	analyzer Analyzer
	queue    Queue
	logger   *logging.Logger
	cfg      workerConfig
	wg       sync.WaitGroup
}

func NewWorker(analyzer Analyzer, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if analyzer == nil {
		panic("intake: analyzer cannot be nil")
	}
	if queue == nil {
		panic("intake: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{
		analyzer: analyzer,
		queue:    queue,
		logger:   logger.Component("intake"),
		cfg:      cfg,
	}
}

// Start launches the consumer goroutines. They exit when ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	for i := range w.cfg.workers {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("intake worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			w.logger.Debug("intake worker stopping", "worker_id", workerID)
			return
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive intake events", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	defer w.deleteMessage(msg.ReceiptHandle)

	var env Envelope
	if err := json.Unmarshal([]byte(msg.Body), &env); err != nil {
		w.logger.Error("failed to decode intake event", "error", err, "msg_id", msg.ID)
		return
	}
	if err := env.Validate(); err != nil {
		w.logger.Error("rejected intake event", "error", err, "event_id", env.ID, "msg_id", msg.ID)
		return
	}

	var res pipeline.Result
	switch env.Kind {
	case KindText:
		res = w.analyzer.AnalyzeText(ctx, *env.Text)
	case KindImage:
		ev, err := env.Image.Event()
		if err != nil {
			w.logger.Error("rejected intake image", "error", err, "event_id", env.ID)
			return
		}
		res = w.analyzer.AnalyzeImage(ctx, ev)
	case KindPage:
		res = w.analyzer.AnalyzePage(ctx, *env.Page)
	}

	w.logger.Info("intake event analyzed",
		"event_id", env.ID,
		"kind", env.Kind,
		"safe", res.Safe,
		"level", res.Level,
		"incident_id", res.IncidentID,
	)
}

// deleteMessage uses its own timeout so shutdown does not strand messages.
func (w *Worker) deleteMessage(receiptHandle string) {
	ctx, cancel := context.WithTimeout(context.Background(), deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(ctx, receiptHandle); err != nil {
		w.logger.Error("failed to delete intake message", "error", err)
	}
}
