package engine

import (
	"fmt"
	"sync"

	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/partition"
	"github.com/mohitkumar/agentorchy/util"
	"go.uber.org/zap"
)

// dispatcher routes workflow ids to step workers through the partition ring,
// so every step of a workflow is started by the same worker.
type dispatcher struct {
	ring    *partition.Ring
	workers map[string]*util.Worker
	wg      sync.WaitGroup
}

func newDispatcher(conf Config, handler func(util.Task) error) (*dispatcher, error) {
	count := conf.StepWorkers
	if count <= 0 {
		count = 1
	}
	d := &dispatcher{
		workers: make(map[string]*util.Worker, count),
	}
	names := make([]string, 0, count)
	for i := 0; i < count; i++ {
		name := fmt.Sprintf("step-worker-%d", i)
		names = append(names, name)
		d.workers[name] = util.NewWorker(name, &d.wg, handler, conf.WorkerCapacity)
	}
	ring, err := partition.NewRing(partition.RingConfig{
		PartitionCount: conf.Partitions,
		Members:        names,
	})
	if err != nil {
		return nil, err
	}
	d.ring = ring
	return d, nil
}

func (d *dispatcher) start() {
	for _, w := range d.workers {
		w.Start()
	}
}

// submit reports whether the step was queued.
func (d *dispatcher) submit(workflowId string) bool {
	name := d.ring.Locate(workflowId)
	w, ok := d.workers[name]
	if !ok {
		logger.Error("no step worker for workflow", zap.String("workflowId", workflowId), zap.String("worker", name))
		return false
	}
	return w.Submit(workflowId)
}

func (d *dispatcher) stop() {
	for _, w := range d.workers {
		w.Stop()
	}
	d.wg.Wait()
}
