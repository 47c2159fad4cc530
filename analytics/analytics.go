package analytics

import (
	"time"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/prometheus/client_golang/prometheus"
)

type DataCollectorConfig struct {
	FileName      string
	CollectorType DataCollectorType
	Registerer    prometheus.Registerer
}

type DataCollectorType string

const LOG_FILE_DATA_COLLECTOR DataCollectorType = "log"
const PROMETHEUS_DATA_COLLECTOR DataCollectorType = "prometheus"
const NOOP_DATA_COLLECTOR DataCollectorType = "none"

type StepRecord struct {
	Sequence   string
	WorkflowId string
	Agent      string
	Step       string
	StepIndex  int
	Duration   time.Duration
	Attempts   int
}

type WorkflowDataCollector interface {
	RecordStepSuccess(rec StepRecord)
	RecordStepFailure(rec StepRecord, errorType string, reason string)
	RecordTransition(workflowId string, from model.WorkflowStatus, to model.WorkflowStatus)
}

func NewDataCollector(config DataCollectorConfig) (WorkflowDataCollector, error) {
	switch config.CollectorType {
	case LOG_FILE_DATA_COLLECTOR:
		c, err := NewLogFileDataCollector(config.FileName)
		if err != nil {
			return nil, err
		}
		return c, nil
	case PROMETHEUS_DATA_COLLECTOR:
		reg := config.Registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		return NewPrometheusDataCollector(reg), nil
	default:
		return NoopDataCollector{}, nil
	}
}

type NoopDataCollector struct{}

func (NoopDataCollector) RecordStepSuccess(StepRecord) {}

func (NoopDataCollector) RecordStepFailure(StepRecord, string, string) {}

func (NoopDataCollector) RecordTransition(string, model.WorkflowStatus, model.WorkflowStatus) {}
