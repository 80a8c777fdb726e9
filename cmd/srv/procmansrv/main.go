package main

import (
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-procman/pkg/daemon"
	"github.com/core-tools/hsu-procman/pkg/deploy"
	"github.com/core-tools/hsu-procman/pkg/descriptor"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"
	"github.com/core-tools/hsu-procman/pkg/processfile"

	flags "github.com/jessevdk/go-flags"
)

type flagOptions struct {
	Config    string `long:"config" short:"c" default:"ecosystem.yaml" description:"ecosystem configuration file"`
	Env       string `long:"env" description:"environment mode, e.g. production selects env_production"`
	LogLevel  string `long:"log-level" default:"info" description:"debug, info, warn or error"`
	LogFormat string `long:"log-format" default:"console" description:"console or json"`
	LogOutput string `long:"log-output" default:"stdout" description:"stdout, stderr or a file path"`
}

var opts flagOptions

type runCommand struct {
	Port           int           `long:"port" default:"50055" description:"control plane port on the loopback interface"`
	MetricsAddr    string        `long:"metrics-addr" description:"address of the Prometheus endpoint, e.g. :9615"`
	MemoryInterval time.Duration `long:"memory-interval" default:"30s" description:"interval between memory samples"`
	RunDuration    time.Duration `long:"run-duration" description:"stop after this long (debug feature)"`
	StateDir       string        `long:"state-dir" description:"directory for pid files and the daemon lock, overrides --scenario"`
	Scenario       string        `long:"scenario" default:"user" choice:"system" choice:"user" choice:"session" choice:"development" description:"deployment scenario selecting the default state directory"`
}

func (c *runCommand) processFiles() processfile.ProcessFileConfig {
	files := processfile.GetRecommendedProcessFileConfig(c.Scenario, "")
	if c.StateDir != "" {
		files.BaseDirectory = c.StateDir
		files.UseSubdirectory = false
	}
	return files
}

func (c *runCommand) Execute(args []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	config := daemon.Config{
		ConfigFile:          opts.Config,
		Mode:                descriptor.EnvironmentMode(opts.Env),
		Port:                c.Port,
		MetricsAddr:         c.MetricsAddr,
		MemoryCheckInterval: c.MemoryInterval,
		ProcessFiles:        c.processFiles(),
	}
	return daemon.RunFor(c.RunDuration, config, logger)
}

type validateCommand struct{}

func (c *validateCommand) Execute(args []string) error {
	store, err := descriptor.LoadFile(opts.Config)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d apps\n", store.Path(), store.Len())
	for _, desc := range store.All() {
		command, commandArgs := desc.CommandLine()
		fmt.Printf("  %-20s instances: %d, mode: %s, command: %s %v\n", desc.Name, desc.Instances, desc.ExecMode, command, commandArgs)
	}
	if envs := store.DeployEnvironments(); len(envs) > 0 {
		fmt.Printf("deploy environments: %v\n", envs)
	}
	return nil
}

type deployPlanCommand struct {
	Phase string `long:"phase" default:"deploy" choice:"deploy" choice:"setup" description:"which hooks to plan"`
}

func (c *deployPlanCommand) Execute(args []string) error {
	if opts.Env == "" {
		return errors.NewValidationError("--env is required for deploy-plan", nil)
	}
	store, err := descriptor.LoadFile(opts.Config)
	if err != nil {
		return err
	}
	target, err := store.DeployTarget(opts.Env)
	if err != nil {
		return err
	}
	plan, err := deploy.NewPlan(target, deploy.Phase(c.Phase))
	if err != nil {
		return err
	}
	data, err := plan.YAML()
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func newLogger() (*logging.ZapLogger, error) {
	config := logging.DefaultZapConfig()
	config.Level = opts.LogLevel
	config.Format = opts.LogFormat
	config.Output = opts.LogOutput

	logger, err := logging.NewZapLogger(config)
	if err != nil {
		return nil, errors.NewConfigError("invalid logging options", err)
	}
	return logger, nil
}

func main() {
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	parser.SubcommandsOptional = true

	run := &runCommand{}
	parser.AddCommand("run", "Run the supervisor daemon", "Start every app and serve the control plane until signalled (default).", run)
	parser.AddCommand("validate", "Validate the configuration", "Load the ecosystem file and print the resolved apps.", &validateCommand{})
	parser.AddCommand("deploy-plan", "Print a deploy plan", "Render the deploy hooks of --env as ordered steps for an external executor.", &deployPlanCommand{})

	_, err := parser.ParseArgs(argv)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				fmt.Println(flagsErr.Message)
				os.Exit(0)
			}
			fmt.Printf("Command line flags parsing failed: %v\n", err)
			os.Exit(errors.ExitCodeGeneric)
		}
		fmt.Fprintf(os.Stderr, "procmansrv: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}

	// No subcommand: run with the defaults of the run command
	if parser.Active == nil {
		if run.Port == 0 {
			run.Port = daemon.DefaultPort
		}
		if err := run.Execute(nil); err != nil {
			fmt.Fprintf(os.Stderr, "procmansrv: %v\n", err)
			os.Exit(errors.ExitCode(err))
		}
	}
}
