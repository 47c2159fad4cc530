package analytics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestPrometheusDataCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewDataCollector(DataCollectorConfig{CollectorType: PROMETHEUS_DATA_COLLECTOR, Registerer: reg})
	require.NoError(t, err)
	p := c.(*PrometheusDataCollector)

	rec := StepRecord{WorkflowId: "wf", Agent: "pm", Step: "prd", Duration: 2 * time.Second, Attempts: 1}
	p.RecordStepSuccess(rec)
	p.RecordStepSuccess(rec)
	p.RecordStepFailure(rec, model.ERROR_TYPE_DYNAMIC_STEP, "bad")
	p.RecordTransition("wf", model.RUNNING, model.COMPLETED)

	require.Equal(t, float64(2), testutil.ToFloat64(p.stepsTotal.WithLabelValues("pm", "success", "")))
	require.Equal(t, float64(1), testutil.ToFloat64(p.stepsTotal.WithLabelValues("pm", "failure", model.ERROR_TYPE_DYNAMIC_STEP)))
	require.Equal(t, float64(1), testutil.ToFloat64(p.transitionsTotal.WithLabelValues("RUNNING", "COMPLETED")))
	require.Equal(t, 1, testutil.CollectAndCount(p.stepDuration))
}

func TestLogFileDataCollector(t *testing.T) {
	file := filepath.Join(t.TempDir(), "analytics.log")
	c, err := NewDataCollector(DataCollectorConfig{CollectorType: LOG_FILE_DATA_COLLECTOR, FileName: file})
	require.NoError(t, err)
	lc := c.(*LogFileDataCollector)

	lc.RecordStepSuccess(StepRecord{Sequence: "FULL_STACK", WorkflowId: "wf", Agent: "dev", Step: "implementation", StepIndex: 6, Attempts: 1})
	lc.RecordStepFailure(StepRecord{WorkflowId: "wf", Agent: "qa"}, model.ERROR_TYPE_MOCK_STEP, "simulated")
	require.NoError(t, lc.Sync())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "success", first["msg"])
	require.Equal(t, "dev", first["agent"])
	require.Equal(t, float64(6), first["stepIndex"])
}

func TestNoopCollector(t *testing.T) {
	c, err := NewDataCollector(DataCollectorConfig{CollectorType: NOOP_DATA_COLLECTOR})
	require.NoError(t, err)
	c.RecordStepSuccess(StepRecord{})
	c.RecordTransition("wf", model.RUNNING, model.PAUSED)
}
