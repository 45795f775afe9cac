// The fixtool agent: a daemon that lets an external controller instantiate
// and drive simulated FIX clients and servers over a framed JSON control
// channel.
//
// Usage:
//
//	fixtool-agent [--config dir] [--log-level level]
//	fixtool-agent shutdown
//
// Only one instance may run at a time, enforced through a pidfile; the
// shutdown form signals the running instance through that pidfile.
package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/fixtool/fixtool/internal/agent"
	"github.com/fixtool/fixtool/internal/core"
	"github.com/fixtool/fixtool/internal/core/debug"
	"github.com/fixtool/fixtool/internal/reactor"
)

var (
	configPath = pflag.StringP("config", "c", "", "Path to the directory containing the config file")
	logLevel   = pflag.StringP("log-level", "l", "", "Override the configured log level")
)

func main() {
	pflag.Parse()

	config, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if *logLevel != "" {
		config.LogLevel = *logLevel
	}

	if pflag.NArg() > 0 {
		switch command := pflag.Arg(0); command {
		case "shutdown":
			if err := signalRunningAgent(config.PidFilePath); err != nil {
				fmt.Println(err)
				os.Exit(1)
			}
			return
		default:
			fmt.Printf("unrecognized command %q\n", command)
			os.Exit(1)
		}
	}

	logger, err := core.NewLogger(config)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	if err := writePidFile(config.PidFilePath); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer os.Remove(config.PidFilePath)

	if config.Debugging.PprofEnabled {
		go debug.StartPprofServer(logger, config.Debugging.PprofPort)
	}

	r := reactor.NewTCP(logger, config.ReadBufferSize)
	a := agent.New(config, logger, r)

	// A signal (including the one sent by the shutdown command) stops the
	// reactor and lets the deferred pidfile cleanup run.
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-interrupt
		logger.Infof("received %s, shutting down", sig)
		a.Shutdown()
	}()

	logger.Infof("starting fixtool agent on %s", config.ControlAddress())
	if err := a.Run(); err != nil {
		logger.Errorf("agent exited with error: %v", err)
		os.Exit(1)
	}
}

// writePidFile records our PID, refusing to start while another live
// instance holds the file.
func writePidFile(path string) error {
	if data, err := ioutil.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil && processAlive(pid) {
			return fmt.Errorf("another agent instance appears to be running (pid %d); "+
				"stop it or remove %s", pid, path)
		}
		// A stale pidfile from an unclean exit is overwritten.
	}
	return ioutil.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// signalRunningAgent implements the shutdown command by signaling the PID
// recorded in the pidfile.
func signalRunningAgent(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return fmt.Errorf("no running agent found: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return fmt.Errorf("malformed pidfile %s: %w", path, err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("no process with pid %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGINT); err != nil {
		return fmt.Errorf("failed to signal pid %d: %w", pid, err)
	}

	fmt.Printf("sent shutdown signal to agent (pid %d)\n", pid)
	return nil
}
