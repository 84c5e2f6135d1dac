package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Emmelman/lawdigest-bot-sub000/pkg/types"
)

func TestNoDependenciesAlwaysReady(t *testing.T) {
	g := New()

	assert.True(t, g.IsReady(nil))
	assert.True(t, g.IsReady([]types.TaskType{}))
}

func TestIsReadyRequiresAllDependencies(t *testing.T) {
	g := New()
	deps := []types.TaskType{"collect", "analyze"}

	assert.False(t, g.IsReady(deps))

	g.MarkCompleted("collect")
	assert.False(t, g.IsReady(deps), "one of two dependencies is not enough")

	g.MarkCompleted("analyze")
	assert.True(t, g.IsReady(deps))
}

func TestAnyInstanceSatisfiesType(t *testing.T) {
	// Resolution is by type, not instance: one completion of the type
	// unblocks every dependent.
	g := New()

	g.MarkCompleted("collect")
	assert.True(t, g.IsReady([]types.TaskType{"collect"}))
	assert.True(t, g.IsReady([]types.TaskType{"collect"}))
}

func TestForget(t *testing.T) {
	g := New()

	g.MarkCompleted("collect")
	g.MarkCompleted("collect")

	g.Forget("collect")
	assert.True(t, g.IsReady([]types.TaskType{"collect"}),
		"one retained result still satisfies the type")

	g.Forget("collect")
	assert.False(t, g.IsReady([]types.TaskType{"collect"}),
		"forgetting the last result must unsatisfy the type")
}

func TestForgetUnknownTypeIsHarmless(t *testing.T) {
	g := New()
	g.Forget("never-completed")
	assert.False(t, g.Satisfied("never-completed"))
}

func TestMissing(t *testing.T) {
	g := New()
	g.MarkCompleted("collect")

	missing := g.Missing([]types.TaskType{"collect", "analyze", "digest"})
	assert.Equal(t, []types.TaskType{"analyze", "digest"}, missing)

	assert.Nil(t, g.Missing([]types.TaskType{"collect"}))
}

func TestSatisfied(t *testing.T) {
	g := New()

	assert.False(t, g.Satisfied("collect"))
	g.MarkCompleted("collect")
	assert.True(t, g.Satisfied("collect"))
}
