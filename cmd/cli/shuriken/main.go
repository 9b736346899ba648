package main

import (
	"bufio"
	"fmt"
	"os"

	flags "github.com/jessevdk/go-flags"

	"github.com/core-tools/hsu-shuriken-go/pkg/dsl"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manager"
)

type flagOptions struct {
	Config   string `long:"config" short:"c" description:"Configuration file path (YAML)"`
	Root     string `long:"root" description:"Shuriken root directory (overrides configuration)"`
	Script   string `long:"script" short:"s" description:"Run a command script instead of the interactive shell"`
	LogLevel string `long:"log-level" description:"Log level: debug, info, warn or error" default:"warn"`
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

	logger := logging.NewLogger(logPrefix("shuriken"), zapLogger.LogFuncs())

	config, err := loadConfig(opts.Config)
	if err != nil {
		logger.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if opts.Root != "" {
		config.Manager.Root = opts.Root
	}
	if err := manager.ValidateConfig(config); err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	mgr, err := manager.NewManager(manager.ManagerOptions{
		Root:            config.Manager.Root,
		GracefulTimeout: config.Manager.StopTimeout,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to initialize manager: %v", err)
		os.Exit(1)
	}

	session := dsl.NewSession(mgr, logger)
	defer session.Close()

	if opts.Script != "" {
		if err := runScript(session, opts.Script); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	runShell(session)
}

func loadConfig(path string) (*manager.Config, error) {
	if path == "" {
		return manager.DefaultConfig()
	}
	return manager.LoadConfigFromFile(path)
}

// runScript executes a file of commands non-interactively. Output goes to
// stdout; the first failing command aborts with its error.
func runScript(session *dsl.Session, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines, err := session.Execute(string(data))
	for _, line := range lines {
		fmt.Println(line)
	}
	return err
}

// runShell drives the interactive prompt. Command errors are printed and
// the shell keeps going; only EOF or .exit ends it.
func runShell(session *dsl.Session) {
	fmt.Println("Shuriken interactive shell. Type 'help' for commands, '.exit' to leave.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(prompt(session))
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := scanner.Text()
		if input == ".exit" {
			return
		}

		// A configure block may span lines; keep reading until it closes.
		for dsl.NeedsContinuation(input) {
			fmt.Print("... ")
			if !scanner.Scan() {
				break
			}
			input += "\n" + scanner.Text()
		}

		lines, err := session.Execute(input)
		for _, line := range lines {
			fmt.Println(line)
		}
		if err != nil {
			fmt.Println("Error: " + err.Error())
		}
	}
}

func prompt(session *dsl.Session) string {
	if name, ok := session.Selected(); ok {
		return fmt.Sprintf("shuriken / %s> ", name)
	}
	return "shuriken > "
}
