package main

import (
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-shuriken-go/pkg/httpapi"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
)

type flagOptions struct {
	Config   string `long:"config" short:"c" description:"Configuration file path (YAML)"`
	Root     string `long:"root" description:"Shuriken root directory (overrides configuration)"`
	Port     int    `long:"port" short:"p" description:"HTTP port (overrides configuration)"`
	LogLevel string `long:"log-level" description:"Log level: debug, info, warn or error" default:"info"`
}

func logPrefix(module string) string {
	return fmt.Sprintf("module: %s , ", module)
}

func main() {
	var opts flagOptions
	var argv []string = os.Args[1:]
	var parser = flags.NewParser(&opts, flags.HelpFlag)
	var err error
	_, err = parser.ParseArgs(argv)
	if err != nil {
		fmt.Printf("Command line flags parsing failed: %v", err)
		os.Exit(1)
	}

	zapLogger, err := logging.NewZapSprintfLogger(opts.LogLevel)
	if err != nil {
		fmt.Printf("Logger setup failed: %v", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	logger := logging.NewLogger(logPrefix("shurikend"), zapLogger.LogFuncs())

	err = httpapi.Run(httpapi.RunOptions{
		ConfigFile: opts.Config,
		Root:       opts.Root,
		Port:       opts.Port,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to run: %v", err)
		os.Exit(1)
	}
}
