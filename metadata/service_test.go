package metadata

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohitkumar/agentorchy/model"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *SequenceService {
	svc, err := NewSequenceService(NewInMemoryMetadataStorage())
	require.NoError(t, err)
	require.NoError(t, svc.SeedTemplates(context.Background(), ""))
	return svc
}

func TestSequenceService(t *testing.T) {
	for scenario, fn := range map[string]func(t *testing.T, svc *SequenceService){
		"resolve static sequence":     testResolveStatic,
		"resolve dynamic template":    testResolveTemplate,
		"unknown names":               testResolveUnknown,
		"save rejects broken yaml":    testSaveBroken,
		"seed keeps stored templates": testSeedKeepsExisting,
	} {
		t.Run(scenario, func(t *testing.T) {
			fn(t, newTestService(t))
		})
	}
}

func testResolveStatic(t *testing.T, svc *SequenceService) {
	seq, err := svc.Resolve(context.Background(), "FULL_STACK", "")
	require.NoError(t, err)
	require.Len(t, seq.Steps, 8)
	require.Equal(t, "analyst", seq.Steps[0].Agent)

	seq.Steps[0].Agent = "mutated"
	again, err := svc.Resolve(context.Background(), "FULL_STACK", "")
	require.NoError(t, err)
	require.Equal(t, "analyst", again.Steps[0].Agent)

	enh, err := svc.Resolve(context.Background(), "ENHANCEMENT", "")
	require.NoError(t, err)
	require.True(t, enh.Steps[0].Interactive)
	require.NotEmpty(t, enh.Steps[0].ElicitationPrompt)

	require.Len(t, svc.ListSequences(), 3)
}

func testResolveTemplate(t *testing.T, svc *SequenceService) {
	seq, err := svc.Resolve(context.Background(), "", "greenfield-service")
	require.NoError(t, err)
	require.Equal(t, "greenfield-service", seq.Name)
	require.Len(t, seq.Steps, 5)
	require.Equal(t, []string{"project-brief.md"}, seq.Steps[1].Requires)
	require.Equal(t, []string{"architecture.md", "prd.md"}, seq.Steps[3].Requires)
	require.Equal(t, "prd", seq.Steps[1].Name)

	brown, err := svc.Resolve(context.Background(), "", "brownfield-enhancement")
	require.NoError(t, err)
	require.Equal(t, "enhancement_classification", brown.Steps[0].Name)
	require.True(t, brown.Steps[0].Interactive)

	defs, err := svc.ListDefinitions(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 2)
}

func testResolveUnknown(t *testing.T, svc *SequenceService) {
	_, err := svc.Resolve(context.Background(), "NOPE", "")
	require.True(t, errors.Is(err, model.ErrSequenceNotFound))
	_, err = svc.Resolve(context.Background(), "", "nope")
	require.True(t, errors.Is(err, model.ErrSequenceNotFound))
}

func testSaveBroken(t *testing.T, svc *SequenceService) {
	_, err := svc.SaveDefinition(context.Background(), "broken", "workflow: [")
	var verr *model.ValidationError
	require.True(t, errors.As(err, &verr))

	_, err = svc.SaveDefinition(context.Background(), "empty", "workflow:\n  sequence:\n    - notes: nothing to run\n")
	require.True(t, errors.As(err, &verr))

	_, err = svc.GetDefinition(context.Background(), "broken")
	require.True(t, errors.Is(err, model.ErrSequenceNotFound))
}

func testSeedKeepsExisting(t *testing.T, svc *SequenceService) {
	ctx := context.Background()
	custom := "workflow:\n  sequence:\n    - agent: dev\n      action: develop\n      creates: code\n"
	_, err := svc.SaveDefinition(ctx, "greenfield-service", custom)
	require.NoError(t, err)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yaml"), []byte(custom), 0o644))
	require.NoError(t, svc.SeedTemplates(ctx, dir))

	seq, err := svc.Resolve(ctx, "", "greenfield-service")
	require.NoError(t, err)
	require.Len(t, seq.Steps, 1)

	extra, err := svc.Resolve(ctx, "", "extra")
	require.NoError(t, err)
	require.Equal(t, "code", extra.Steps[0].Name)

	require.NoError(t, svc.DeleteDefinition(ctx, "extra"))
	_, err = svc.GetDefinition(ctx, "extra")
	require.Error(t, err)
}
