package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	flags "github.com/jessevdk/go-flags"
)

// crashtest is a payload for exercising the supervisor: it can hold memory,
// exit on its own with a chosen code, or ignore SIGTERM.
type flagOptions struct {
	RunDuration     int  `long:"run-duration" description:"Seconds to run before exiting, 0 runs until signalled"`
	MemoryMB        int  `long:"memory-mb" description:"Megabytes of memory to allocate and keep resident"`
	ExitCode        int  `long:"exit-code" description:"Exit code used when the run duration ends"`
	IgnoreTerm      bool `long:"ignore-term" description:"Ignore termination signals, only a kill stops the process"`
	TickSeconds     int  `long:"tick" default:"1" description:"Seconds between heartbeat lines on stdout"`
	StderrHeartbeat bool `long:"stderr" description:"Also write heartbeats to stderr"`
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	_, err := parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Running crashtest, pid: %d, instance: %s, opts: %+v\n", os.Getpid(), os.Getenv("NODE_APP_INSTANCE"), opts)

	ctx := context.Background()
	if opts.RunDuration > 0 {
		fmt.Printf("Using run duration of %d seconds\n", opts.RunDuration)
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.RunDuration)*time.Second)
		defer cancel()
	}

	var ballast []byte
	if opts.MemoryMB > 0 {
		fmt.Printf("Allocating %d megabytes\n", opts.MemoryMB)
		ballast = make([]byte, opts.MemoryMB*1024*1024)
		// Touch every page so the memory is resident
		for i := 0; i < len(ballast); i += 4096 {
			ballast[i] = 1
		}
	}

	sig := make(chan os.Signal, 1)
	if runtime.GOOS == "windows" {
		signal.Notify(sig, os.Interrupt)
	} else {
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	}

	tick := time.Duration(opts.TickSeconds) * time.Second
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case receivedSignal := <-sig:
			if opts.IgnoreTerm {
				fmt.Printf("Crashtest ignoring signal: %v\n", receivedSignal)
				continue
			}
			fmt.Printf("Crashtest received signal: %v\n", receivedSignal)
			runtime.KeepAlive(ballast)
			return
		case <-ctx.Done():
			fmt.Printf("Crashtest run duration elapsed, exiting with code %d\n", opts.ExitCode)
			runtime.KeepAlive(ballast)
			os.Exit(opts.ExitCode)
		case <-ticker.C:
			fmt.Printf("heartbeat %d\n", n)
			if opts.StderrHeartbeat {
				fmt.Fprintf(os.Stderr, "heartbeat %d\n", n)
			}
		}
	}
}
