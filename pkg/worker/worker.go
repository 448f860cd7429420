package worker

import (
	"errors"
	"sync"

	"github.com/nimasrn/campaign-dispatcher/pkg/logger"
)

var (
	ErrBufferFull = errors.New("worker buffer is full")
	ErrStopped    = errors.New("worker manager is stopped")
)

type WorkerHandler = func(workerIndex int, job interface{})

type WorkerManager struct {
	bufferSize     int
	jobChannel     chan interface{}
	numberOfWorker int
	quit           chan struct{}
	do             WorkerHandler
	waiter         *sync.WaitGroup
	exitOnce       sync.Once
}

// NewWorkerManager
// is a job manager based on go routines. Define the number of internal
// workers, set the handler with SetWorker and publish jobs with Enqueue or
// TryEnqueue. Jobs are distributed among the pool until Exit is called.
func NewWorkerManager(bufferSize, numberOfWorkers int) *WorkerManager {
	if numberOfWorkers < 1 {
		numberOfWorkers = 1
	}
	return &WorkerManager{
		bufferSize:     bufferSize,
		numberOfWorker: numberOfWorkers,
		jobChannel:     make(chan interface{}, bufferSize),
		quit:           make(chan struct{}),
		waiter:         &sync.WaitGroup{},
	}
}

func (w *WorkerManager) GetUnreadCount() int64 {
	return int64(len(w.jobChannel))
}

func (w *WorkerManager) SetWorker(worker WorkerHandler) {
	w.do = worker
}

// Enqueue
// Publishes a job onto the channel, blocking while the buffer is full
func (w *WorkerManager) Enqueue(val interface{}) error {
	if w.isStopped() {
		return ErrStopped
	}
	select {
	case w.jobChannel <- val:
		return nil
	case <-w.quit:
		return ErrStopped
	}
}

// TryEnqueue
// Publishes a job without blocking, failing with ErrBufferFull when no slot is free
func (w *WorkerManager) TryEnqueue(val interface{}) error {
	if w.isStopped() {
		return ErrStopped
	}
	select {
	case w.jobChannel <- val:
		return nil
	default:
		return ErrBufferFull
	}
}

// Start
// starts off the workers as many as defined by w.numberOfWorker and
// returns immediately. Wait blocks until they have exited.
func (w *WorkerManager) Start() {
	w.waiter.Add(w.numberOfWorker)
	for i := 0; i < w.numberOfWorker; i++ {
		go func(index int) {
			defer w.waiter.Done()
			for {
				select {
				case job := <-w.jobChannel:
					w.run(index, job)
				case <-w.quit:
					return
				}
			}
		}(i)
	}
}

func (w *WorkerManager) run(index int, job interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("worker recovered from panic", "worker", index, "panic", r)
		}
	}()
	w.do(index, job)
}

func (w *WorkerManager) Wait() {
	w.waiter.Wait()
}

// Exit
// stops accepting jobs and signals every worker to return once its current
// job finishes. Jobs still buffered are dropped.
func (w *WorkerManager) Exit() {
	w.exitOnce.Do(func() {
		logger.Info("worker manager is shutting down", "unread", len(w.jobChannel))
		close(w.quit)
	})
}

func (w *WorkerManager) isStopped() bool {
	select {
	case <-w.quit:
		return true
	default:
		return false
	}
}
