package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/core-tools/hsu-procman/pkg/control"
	"github.com/core-tools/hsu-procman/pkg/domain"
	"github.com/core-tools/hsu-procman/pkg/errors"
	"github.com/core-tools/hsu-procman/pkg/logging"

	flags "github.com/jessevdk/go-flags"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type flagOptions struct {
	Server  string        `long:"server" default:"127.0.0.1:50055" description:"address of the procmansrv control plane"`
	Timeout time.Duration `long:"timeout" default:"60s" description:"deadline for the whole request"`
	Verbose bool          `long:"verbose" short:"v" description:"log control plane calls"`
}

var opts flagOptions

// session is set up once flags are parsed, before any command runs
var session struct {
	client domain.Contract
	ctx    context.Context
}

type nameArgs struct {
	Name string `positional-arg-name:"name" description:"app name, <name>-<instance> or all"`
}

type startCommand struct {
	Args nameArgs `positional-args:"yes"`
}

func (c *startCommand) Execute(args []string) error {
	if err := session.client.Start(session.ctx, c.Args.Name); err != nil {
		return err
	}
	return printStatus()
}

type stopCommand struct {
	Args nameArgs `positional-args:"yes" required:"yes"`
}

func (c *stopCommand) Execute(args []string) error {
	if err := session.client.Stop(session.ctx, c.Args.Name); err != nil {
		return err
	}
	return printStatus()
}

type restartCommand struct {
	Args nameArgs `positional-args:"yes" required:"yes"`
}

func (c *restartCommand) Execute(args []string) error {
	if err := session.client.Restart(session.ctx, c.Args.Name); err != nil {
		return err
	}
	return printStatus()
}

type reloadCommand struct{}

func (c *reloadCommand) Execute(args []string) error {
	if err := session.client.Reload(session.ctx); err != nil {
		return err
	}
	return printStatus()
}

type statusCommand struct{}

func (c *statusCommand) Execute(args []string) error {
	return printStatus()
}

func printStatus() error {
	statuses, err := session.client.Status(session.ctx)
	if err != nil {
		return err
	}
	fmt.Println(renderStatus(statuses, time.Now()))
	return nil
}

func newLogger() logging.Logger {
	if !opts.Verbose {
		return logging.NewNopLogger()
	}
	config := logging.DefaultZapConfig()
	config.Level = "debug"
	config.Output = "stderr"
	logger, err := logging.NewZapLogger(config)
	if err != nil {
		return logging.NewNopLogger()
	}
	return logger
}

func main() {
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)

	parser.AddCommand("start", "Start an app", "Start an app, an instance or all apps when no name is given.", &startCommand{})
	parser.AddCommand("stop", "Stop an app", "Stop an app and suppress its restarts.", &stopCommand{})
	parser.AddCommand("restart", "Restart an app", "Stop and start an app, resetting its crash counter.", &restartCommand{})
	parser.AddCommand("reload", "Reload every app", "Restart every app one at a time.", &reloadCommand{})
	parser.AddCommand("status", "Show process status", "Show the state of every managed process.", &statusCommand{})

	parser.CommandHandler = func(command flags.Commander, args []string) error {
		if command == nil {
			return nil
		}

		conn, err := grpc.NewClient(opts.Server, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return errors.NewNetworkError("failed to create control plane client", err).WithContext("server", opts.Server)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), opts.Timeout)
		defer cancel()

		session.client = control.NewGRPCClientGateway(conn, newLogger())
		session.ctx = ctx
		return command.Execute(args)
	}

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
		fmt.Fprintf(os.Stderr, "procmanctl: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}
