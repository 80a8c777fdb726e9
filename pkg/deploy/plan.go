package deploy

import (
	"context"
	"fmt"

	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Phase selects which hooks of a deploy target make up a plan
type Phase string

const (
	PhaseSetup  Phase = "setup"
	PhaseDeploy Phase = "deploy"
)

const (
	HookPreSetup       = "pre-setup"
	HookPostSetup      = "post-setup"
	HookPreDeployLocal = "pre-deploy-local"
	HookPreDeploy      = "pre-deploy"
	HookPostDeploy     = "post-deploy"
)

// Step is one shell command of a plan. The command text is never
// interpreted here; an Executor decides how to run it.
type Step struct {
	Hook    string `yaml:"hook"`
	Local   bool   `yaml:"local,omitempty"`
	Host    string `yaml:"host,omitempty"`
	User    string `yaml:"user,omitempty"`
	Path    string `yaml:"path,omitempty"`
	Command string `yaml:"command"`
}

func (s Step) String() string {
	if s.Local {
		return fmt.Sprintf("%s (local)", s.Hook)
	}
	return fmt.Sprintf("%s (%s@%s)", s.Hook, s.User, s.Host)
}

type Plan struct {
	Environment string   `yaml:"environment"`
	Phase       Phase    `yaml:"phase"`
	User        string   `yaml:"user,omitempty"`
	Hosts       []string `yaml:"hosts"`
	Repo        string   `yaml:"repo,omitempty"`
	Ref         string   `yaml:"ref,omitempty"`
	Path        string   `yaml:"path,omitempty"`
	Steps       []Step   `yaml:"steps"`
}

// Executor runs plan steps, typically over ssh. No implementation ships
// with the supervisor.
type Executor interface {
	Execute(ctx context.Context, step Step) error
}

// NewPlan orders the hooks of target for phase. Empty hooks are skipped.
// Setup runs pre-setup then post-setup on every host; deploy runs
// pre-deploy-local once, then pre-deploy and post-deploy on every host.
func NewPlan(target descriptor.DeployTarget, phase Phase) (*Plan, error) {
	if len(target.Hosts) == 0 {
		return nil, errors.NewValidationError("deploy target has no host", nil).WithContext("environment", target.Environment)
	}
	if target.Path == "" {
		return nil, errors.NewValidationError("deploy target has no path", nil).WithContext("environment", target.Environment)
	}

	plan := &Plan{
		Environment: target.Environment,
		Phase:       phase,
		User:        target.User,
		Hosts:       append([]string(nil), target.Hosts...),
		Repo:        target.Repo,
		Ref:         target.Ref,
		Path:        target.Path,
	}

	remote := func(hook, command string) {
		if command == "" {
			return
		}
		for _, host := range target.Hosts {
			plan.Steps = append(plan.Steps, Step{
				Hook:    hook,
				Host:    host,
				User:    target.User,
				Path:    target.Path,
				Command: command,
			})
		}
	}

	switch phase {
	case PhaseSetup:
		remote(HookPreSetup, target.PreSetup)
		remote(HookPostSetup, target.PostSetup)
	case PhaseDeploy:
		if target.PreDeployLocal != "" {
			plan.Steps = append(plan.Steps, Step{Hook: HookPreDeployLocal, Local: true, Command: target.PreDeployLocal})
		}
		remote(HookPreDeploy, target.PreDeploy)
		remote(HookPostDeploy, target.PostDeploy)
	default:
		return nil, errors.NewValidationError(fmt.Sprintf("unknown deploy phase '%s'", phase), nil)
	}

	return plan, nil
}

// YAML renders the plan for an external tool
func (p *Plan) YAML() ([]byte, error) {
	data, err := yaml.Marshal(p)
	if err != nil {
		return nil, errors.NewInternalError("failed to render deploy plan", err)
	}
	return data, nil
}

// Apply hands every step to executor in order and stops at the first failure
func (p *Plan) Apply(ctx context.Context, executor Executor, logger logging.Logger) error {
	for i, step := range p.Steps {
		if err := ctx.Err(); err != nil {
			return errors.NewCancelledError("deploy cancelled", err).WithContext("step", i)
		}
		logger.Infof("Deploy step %d/%d: %s", i+1, len(p.Steps), step)
		if err := executor.Execute(ctx, step); err != nil {
			logger.Errorf("Deploy step failed, step: %s, error: %v", step, err)
			return errors.NewDomainError(errors.TypeOf(err), fmt.Sprintf("deploy step %s failed", step), err).
				WithContext("environment", p.Environment).
				WithContext("hook", step.Hook)
		}
	}
	return nil
}
