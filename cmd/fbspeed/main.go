package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/NodePath81/fbspeed/internal/config"
	"github.com/NodePath81/fbspeed/internal/util"
	"github.com/NodePath81/fbspeed/internal/version"
	"github.com/spf13/pflag"
)

func main() {
	if len(os.Args) < 2 {
		printHelp(os.Stdout)
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "run":
		err = runCmd(os.Args[2:])
	case "serve":
		err = serveCmd(os.Args[2:])
	case "check":
		err = checkCmd(os.Args[2:])
	case "history":
		err = historyCmd(os.Args[2:])
	case "help", "-h", "--help":
		printHelp(os.Stdout)
		return
	case "version", "-v", "--version":
		fmt.Println(version.Version)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		printHelp(os.Stderr)
		os.Exit(2)
	}
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set with the shared --config flag.
func newFlagSet(name string) (*pflag.FlagSet, *string) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	configPath := fs.StringP("config", "c", "", "Path to config file")
	return fs, configPath
}

// loadConfig reads path, or returns the defaults when path is empty. A bare
// positional argument is accepted as the config path.
func loadConfig(fs *pflag.FlagSet, path string) (config.Config, error) {
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger(cfg config.LoggingConfig, level string, w io.Writer) (util.Logger, io.Closer, error) {
	opts := cfg.Options()
	if level != "" {
		opts.Level = level
	}
	opts.Writer = w
	return util.NewLoggerWithOptions(opts)
}

func checkCmd(args []string) error {
	fs, configPath := newFlagSet("check")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := *configPath
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Printf("config valid: %d probe servers, server listen %s, max streams %s, max bandwidth %s\n",
		len(cfg.Client.Servers), cfg.Server.Listen, streamsLabel(cfg.Server.MaxStreams), bandwidthLabel(cfg.Server.MaxBandwidthBits))
	return nil
}

func streamsLabel(n int) string {
	if n <= 0 {
		return "unlimited"
	}
	return strconv.Itoa(n)
}

func bandwidthLabel(bits uint64) string {
	if bits == 0 {
		return "unlimited"
	}
	return util.FormatBitsPerSecond(float64(bits))
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `fbspeed - network measurement engine and probe server

Usage:
  fbspeed run [flags]               Measure against the configured probe servers
  fbspeed serve [flags]             Start a probe server
  fbspeed check --config <path>     Validate config file
  fbspeed history --db <path>       Show stored reports
  fbspeed help                      Show this help
  fbspeed version                   Print version

Run "fbspeed <command> --help" for command flags.
`)
}
