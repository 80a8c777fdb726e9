package deploy

import (
	"context"
	"testing"

	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, step Step) error {
	args := m.Called(ctx, step)
	return args.Error(0)
}

func productionTarget() descriptor.DeployTarget {
	return descriptor.DeployTarget{
		Environment:    "production",
		User:           "node",
		Hosts:          []string{"a.example.com", "b.example.com"},
		Ref:            "origin/main",
		Repo:           "git@example.com:app.git",
		Path:           "/var/www/app",
		PreDeployLocal: "echo local",
		PostDeploy:     "npm install && procmanctl reload",
		PreSetup:       "",
		PostSetup:      "ls -la",
	}
}

func TestNewPlan_DeployOrder(t *testing.T) {
	plan, err := NewPlan(productionTarget(), PhaseDeploy)
	require.NoError(t, err)

	var hooks []string
	for _, s := range plan.Steps {
		hooks = append(hooks, s.Hook+"@"+s.Host)
	}
	assert.Equal(t, []string{
		"pre-deploy-local@",
		"post-deploy@a.example.com",
		"post-deploy@b.example.com",
	}, hooks)
	assert.True(t, plan.Steps[0].Local)
	assert.Equal(t, "node", plan.Steps[1].User)
	assert.Equal(t, "/var/www/app", plan.Steps[1].Path)
	assert.Equal(t, "npm install && procmanctl reload", plan.Steps[2].Command)
}

func TestNewPlan_SetupSkipsEmptyHooks(t *testing.T) {
	plan, err := NewPlan(productionTarget(), PhaseSetup)
	require.NoError(t, err)

	require.Len(t, plan.Steps, 2)
	for _, s := range plan.Steps {
		assert.Equal(t, HookPostSetup, s.Hook)
		assert.False(t, s.Local)
	}
}

func TestNewPlan_Invalid(t *testing.T) {
	target := productionTarget()
	target.Hosts = nil
	_, err := NewPlan(target, PhaseDeploy)
	assert.True(t, errors.IsValidationError(err))

	target = productionTarget()
	target.Path = ""
	_, err = NewPlan(target, PhaseDeploy)
	assert.True(t, errors.IsValidationError(err))

	_, err = NewPlan(productionTarget(), Phase("rollback"))
	assert.True(t, errors.IsValidationError(err))
}

func TestPlan_YAML(t *testing.T) {
	plan, err := NewPlan(productionTarget(), PhaseDeploy)
	require.NoError(t, err)

	data, err := plan.YAML()
	require.NoError(t, err)

	var decoded Plan
	require.NoError(t, yaml.Unmarshal(data, &decoded))
	assert.Equal(t, "production", decoded.Environment)
	assert.Equal(t, PhaseDeploy, decoded.Phase)
	assert.Len(t, decoded.Steps, 3)
	assert.Contains(t, string(data), "pre-deploy-local")
}

func TestPlan_ApplyRunsStepsInOrder(t *testing.T) {
	plan, err := NewPlan(productionTarget(), PhaseDeploy)
	require.NoError(t, err)

	executor := &MockExecutor{}
	var order []string
	executor.On("Execute", mock.Anything, mock.AnythingOfType("deploy.Step")).
		Run(func(args mock.Arguments) {
			order = append(order, args.Get(1).(Step).String())
		}).
		Return(nil)

	require.NoError(t, plan.Apply(context.Background(), executor, logging.NewNopLogger()))
	executor.AssertNumberOfCalls(t, "Execute", 3)
	assert.Equal(t, []string{
		"pre-deploy-local (local)",
		"post-deploy (node@a.example.com)",
		"post-deploy (node@b.example.com)",
	}, order)
}

func TestPlan_ApplyStopsAtFirstFailure(t *testing.T) {
	plan, err := NewPlan(productionTarget(), PhaseDeploy)
	require.NoError(t, err)

	executor := &MockExecutor{}
	executor.On("Execute", mock.Anything, mock.MatchedBy(func(s Step) bool { return s.Local })).Return(nil)
	executor.On("Execute", mock.Anything, mock.MatchedBy(func(s Step) bool { return !s.Local })).
		Return(errors.NewNetworkError("ssh: connection refused", nil))

	err = plan.Apply(context.Background(), executor, logging.NewNopLogger())
	require.Error(t, err)
	assert.True(t, errors.IsNetworkError(err))
	executor.AssertNumberOfCalls(t, "Execute", 2)
}

func TestPlan_ApplyCancelled(t *testing.T) {
	plan, err := NewPlan(productionTarget(), PhaseDeploy)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor := &MockExecutor{}
	err = plan.Apply(ctx, executor, logging.NewNopLogger())
	assert.True(t, errors.IsCancelledError(err))
	executor.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}
