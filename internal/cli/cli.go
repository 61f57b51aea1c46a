// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and command dispatch for gpuinfo.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output streams. Tests swap these to capture output.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdList Command = iota
	CmdCount
	CmdInfo
	CmdDoctor
	CmdServe
	CmdConfig
	CmdVersion
	CmdHelp
	CmdUnknown
)

// String returns the command name as typed.
func (c Command) String() string {
	switch c {
	case CmdList:
		return "list"
	case CmdCount:
		return "count"
	case CmdInfo:
		return "info"
	case CmdDoctor:
		return "doctor"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	JSON       bool
	Verbose    bool
	Quiet      bool
	NoColor    bool
	ConfigPath string // --config overrides the default search
	Listen     string // --listen overrides server.listen

	// Command-specific
	Subcommand string
	IndexArg   string
	ConfigKey  string
	ConfigVal  string
	Force      bool

	// Raw args (remaining after flag parsing)
	Raw []string
}

const usageText = `gpuinfo - vendor-neutral GPU inventory and telemetry

Reports every NVIDIA, AMD and Intel GPU on the host with one record shape:
name, UUID, PCI bus ID, memory, utilization, temperature, power, clocks
and fan speed. Devices are numbered NVIDIA first, then AMD, then Intel.

Usage:
  gpuinfo                        List GPUs (default)
  gpuinfo list, ls               List GPUs as a table
  gpuinfo count                  Print the number of GPUs
  gpuinfo info <index>           Show one GPU in detail
  gpuinfo doctor                 Diagnose driver and backend availability
  gpuinfo serve                  Serve JSON and Prometheus metrics over HTTP
  gpuinfo config [subcommand]    Configuration
  gpuinfo version                Show version information

Config Commands:
  gpuinfo config show            Show effective configuration (default)
  gpuinfo config path            Show the config file location
  gpuinfo config init [--force]  Write a default config file
  gpuinfo config get <key>       Print one value (e.g. server.listen)
  gpuinfo config set <key> <val> Change one value in the config file

Serve Endpoints:
  GET /api/v1/gpus               All records (null for failed devices)
  GET /api/v1/gpus/{index}       One record
  GET /api/v1/census             Per-vendor counts and detection strategies
  GET /healthz                   Liveness
  GET /metrics                   Prometheus exposition

Global Flags:
  --json            Output in JSON format
  -v, --verbose     Debug logging and detection details
  -q, --quiet       Errors only
  --no-color        Disable colored output
  --config PATH     Use a specific config file (.toml or .json)
  --listen ADDR     Listen address for serve (overrides config)

Environment:
  GPUINFO_NVML_LIBRARY, GPUINFO_SYSFS_ROOT, GPUINFO_DISABLE_VENDORS,
  GPUINFO_PLACEHOLDER, GPUINFO_LISTEN, GPUINFO_LOG_LEVEL, GPUINFO_AUTH_TOKEN

Examples:
  gpuinfo
  gpuinfo info 0 --json
  gpuinfo serve --listen 0.0.0.0:9835
  GPUINFO_DISABLE_VENDORS=intel gpuinfo count

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Fprintf(stdout, "gpuinfo version %s\n", Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", BuildDate)
	fmt.Fprintf(stdout, "  Go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Parse parses os.Args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses command-line arguments and returns the command and args.
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdList, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "list", "ls":
		return CmdList, parsedArgs

	case "count":
		return CmdCount, parsedArgs

	case "info", "show":
		if len(remaining) > 0 {
			parsedArgs.IndexArg = remaining[0]
		}
		return CmdInfo, parsedArgs

	case "doctor", "diag":
		return CmdDoctor, parsedArgs

	case "serve", "server":
		return CmdServe, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		parsedArgs.Raw = append([]string{cmd}, remaining...)
		return CmdUnknown, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
// Flags may appear anywhere on the command line.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--json":
			parsedArgs.JSON = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "--no-color":
			parsedArgs.NoColor = true
		case "-f", "--force":
			parsedArgs.Force = true
		case "--config", "--listen":
			if i+1 < len(args) {
				i++
				setValueFlag(&parsedArgs, arg, args[i])
			}
		default:
			if name, value, ok := strings.Cut(arg, "="); ok && (name == "--config" || name == "--listen") {
				setValueFlag(&parsedArgs, name, value)
			} else {
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

func setValueFlag(a *Args, name, value string) {
	switch name {
	case "--config":
		a.ConfigPath = value
	case "--listen":
		a.Listen = value
	}
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = strings.ToLower(remaining[0])
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = strings.Join(remaining[2:], " ")
		}
	}
}

// Run executes cmd and returns the process exit code.
func Run(cmd Command, args Args) int {
	if args.NoColor {
		DisableColors()
	}

	var err error
	switch cmd {
	case CmdList:
		err = HandleList(args)
	case CmdCount:
		err = HandleCount(args)
	case CmdInfo:
		err = HandleInfo(args)
	case CmdDoctor:
		err = HandleDoctor(args)
	case CmdServe:
		err = HandleServe(args)
	case CmdConfig:
		err = HandleConfig(args)
	case CmdVersion:
		err = HandleVersion(args)
	case CmdHelp:
		PrintUsage()
	default:
		err = &ValidationError{
			Field:   "command",
			Value:   strings.Join(args.Raw, " "),
			Reason:  "unknown command",
			Example: "gpuinfo help",
		}
	}

	if err != nil {
		// Doctor prints its own report; its error only sets the exit code.
		if cmd != CmdDoctor || !args.JSON {
			DisplayError(err, args.JSON)
		}
		return GetExitCode(err)
	}
	return ExitSuccess
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}).Print()
	}
	PrintVersion()
	return nil
}
