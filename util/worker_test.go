package util

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorker(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, wg *sync.WaitGroup){
		"process submitted tasks":    testWorkerProcess,
		"resubmit from handler":      testWorkerResubmit,
		"submit to full queue":       testWorkerFullQueue,
		"tick worker runs and stops": testTickWorker,
	} {
		t.Run(scenario, func(t *testing.T) {
			var wg sync.WaitGroup
			fn(t, &wg)
		})
	}
}

func testWorkerProcess(t *testing.T, wg *sync.WaitGroup) {
	var count atomic.Int32
	w := NewWorker("test", wg, func(task Task) error {
		count.Add(int32(task.(int)))
		return nil
	}, 4)
	w.Start()
	for i := 1; i <= 10; i++ {
		w.Submit(i)
	}
	require.Eventually(t, func() bool { return count.Load() == 55 }, time.Second, 5*time.Millisecond)
	w.Stop()
	w.Stop()
	wg.Wait()
}

func testWorkerResubmit(t *testing.T, wg *sync.WaitGroup) {
	var count atomic.Int32
	var w *Worker
	w = NewWorker("resubmit", wg, func(task Task) error {
		n := task.(int)
		count.Add(1)
		if n > 0 {
			w.Submit(n - 1)
		}
		return nil
	}, 1)
	w.Start()
	w.Submit(20)
	require.Eventually(t, func() bool { return count.Load() == 21 }, time.Second, 5*time.Millisecond)
	w.Stop()
	wg.Wait()
}

func testWorkerFullQueue(t *testing.T, wg *sync.WaitGroup) {
	w := NewWorker("full", wg, func(task Task) error { return nil }, 1).WithSubmitTimeout(20 * time.Millisecond)
	require.True(t, w.Submit(1))
	start := time.Now()
	require.False(t, w.Submit(2))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	w.Stop()
	require.False(t, w.Submit(3))
}

func testTickWorker(t *testing.T, wg *sync.WaitGroup) {
	var ticks atomic.Int32
	tw := NewTickWorker("ticker", 5*time.Millisecond, func() { ticks.Add(1) }, wg)
	tw.Start()
	require.Eventually(t, func() bool { return ticks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	tw.Stop()
	wg.Wait()
}
