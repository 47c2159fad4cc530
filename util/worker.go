package util

import (
	"sync"
	"time"

	"github.com/mohitkumar/agentorchy/logger"
	"go.uber.org/zap"
)

type Task any

const DEFAULT_SUBMIT_TIMEOUT = 5 * time.Second

type Worker struct {
	name          string
	capacity      int
	submitTimeout time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
	wg            *sync.WaitGroup
	handler       func(Task) error
	taskChan      chan Task
}

func NewWorker(name string, wg *sync.WaitGroup, handler func(Task) error, capacity int) *Worker {
	return &Worker{
		taskChan:      make(chan Task, capacity),
		name:          name,
		capacity:      capacity,
		submitTimeout: DEFAULT_SUBMIT_TIMEOUT,
		wg:            wg,
		stop:          make(chan struct{}),
		handler:       handler,
	}
}

func (w *Worker) WithSubmitTimeout(d time.Duration) *Worker {
	w.submitTimeout = d
	return w
}

func (w *Worker) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case task := <-w.taskChan:
				if err := w.handler(task); err != nil {
					logger.Error("error in executing task in worker", zap.String("worker", w.name), zap.Any("task", task), zap.Error(err))
				}
			case <-w.stop:
				logger.Info("stopping worker", zap.String("worker", w.name))
				return
			}
		}
	}()
}

// Submit waits for queue space up to the submit timeout and reports whether
// the task was queued. A handler submitting to its own worker must leave room
// in the queue.
func (w *Worker) Submit(task Task) bool {
	select {
	case w.taskChan <- task:
		return true
	default:
	}
	timer := time.NewTimer(w.submitTimeout)
	defer timer.Stop()
	select {
	case w.taskChan <- task:
		return true
	case <-w.stop:
		return false
	case <-timer.C:
		logger.Warn("worker queue full, task not queued", zap.String("worker", w.name), zap.Any("task", task))
		return false
	}
}

func (w *Worker) Name() string {
	return w.name
}

func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
}
