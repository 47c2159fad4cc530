package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/mohitkumar/agentorchy/logger"
	"github.com/mohitkumar/agentorchy/model"
	"go.uber.org/zap"
)

// Generator is the language model collaborator.
type Generator interface {
	Generate(ctx context.Context, prompt string, vars map[string]any) (string, error)
}

type GeneratorFunc func(ctx context.Context, prompt string, vars map[string]any) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, vars map[string]any) (string, error) {
	return f(ctx, prompt, vars)
}

var _ Strategy = new(GenerativeStrategy)

type GenerativeConfig struct {
	RequiredSections []string
	MaxAttempts      int
	RetryInterval    time.Duration
}

var errMissingSections = errors.New("missing required sections")

type GenerativeStrategy struct {
	generator Generator
	conf      GenerativeConfig
}

func NewGenerativeStrategy(generator Generator, conf GenerativeConfig) *GenerativeStrategy {
	if conf.MaxAttempts <= 0 {
		conf.MaxAttempts = 2
	}
	return &GenerativeStrategy{
		generator: generator,
		conf:      conf,
	}
}

func (g *GenerativeStrategy) Name() string {
	return "generative"
}

// Produce calls the generator until its answer has every required section or
// the attempt budget is spent.
func (g *GenerativeStrategy) Produce(ctx context.Context, agent model.Agent, sc model.StepContext) (*Output, error) {
	prompt := BuildPrompt(agent, sc, g.conf.RequiredSections)
	attempts := 0
	var content string
	op := func() error {
		attempts++
		text, err := g.generator.Generate(ctx, prompt, sc.Context)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if missing := MissingSections(text, g.conf.RequiredSections); len(missing) > 0 {
			logger.Warn("generated content failed validation", zap.String("workflowId", sc.WorkflowId), zap.String("agent", agent.Id), zap.Int("attempt", attempts), zap.Strings("missing", missing))
			return fmt.Errorf("%w: %s", errMissingSections, strings.Join(missing, ", "))
		}
		content = text
		return nil
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = g.conf.RetryInterval
	exp.MaxElapsedTime = 0
	exp.Reset()
	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(g.conf.MaxAttempts-1)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, &StepError{
			Type:     model.ERROR_TYPE_DYNAMIC_STEP,
			Message:  fmt.Sprintf("agent %s failed after %d attempts", agent.Id, attempts),
			Attempts: attempts,
			Err:      err,
		}
	}
	return &Output{Content: content, Attempts: attempts}, nil
}
