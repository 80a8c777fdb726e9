package descriptor

import "sort"

// ResolveEnv returns the environment an app is started with. The base env is
// overlaid with the env_<mode> block of the selected mode; keys of the mode
// block win on conflict. The default mode returns the base env alone.
func ResolveEnv(desc *ProcessDescriptor, mode EnvironmentMode) map[string]string {
	resolved := copyEnv(desc.Env)
	if mode == EnvironmentDefault {
		return resolved
	}

	overlay := desc.ModeEnv[string(mode)]
	if mode == EnvironmentProduction && overlay == nil {
		overlay = desc.EnvProduction
	}
	for k, v := range overlay {
		resolved[k] = v
	}
	return resolved
}

// EnvList renders an environment map as sorted KEY=VALUE pairs for exec
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
