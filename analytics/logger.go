package analytics

import (
	"os"

	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ WorkflowDataCollector = new(LogFileDataCollector)

// LogFileDataCollector appends one JSON line per step outcome to a file.
type LogFileDataCollector struct {
	fileName string
	logger   *zap.Logger
}

func NewLogFileDataCollector(fileName string) (*LogFileDataCollector, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.StacktraceKey = ""
	encoderConfig.CallerKey = ""
	logFile, err := os.OpenFile(fileName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(logFile), zapcore.InfoLevel)
	return &LogFileDataCollector{
		fileName: fileName,
		logger:   zap.New(core),
	}, nil
}

func (lc *LogFileDataCollector) RecordStepSuccess(rec StepRecord) {
	lc.logger.Info("success", stepFields(rec, zap.Duration("duration", rec.Duration), zap.Int("attempts", rec.Attempts))...)
}

func (lc *LogFileDataCollector) RecordStepFailure(rec StepRecord, errorType string, reason string) {
	lc.logger.Info("failure", stepFields(rec, zap.String("type", errorType), zap.String("reason", reason))...)
}

func (lc *LogFileDataCollector) RecordTransition(workflowId string, from model.WorkflowStatus, to model.WorkflowStatus) {
	lc.logger.Info("transition", zap.String("id", workflowId), zap.String("from", string(from)), zap.String("to", string(to)))
}

func (lc *LogFileDataCollector) Sync() error {
	return lc.logger.Sync()
}

func stepFields(rec StepRecord, extra ...zap.Field) []zap.Field {
	fields := []zap.Field{
		zap.String("sequence", rec.Sequence),
		zap.String("id", rec.WorkflowId),
		zap.String("agent", rec.Agent),
		zap.String("step", rec.Step),
		zap.Int("stepIndex", rec.StepIndex),
	}
	return append(fields, extra...)
}
