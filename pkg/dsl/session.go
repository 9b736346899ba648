package dsl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/httpapi"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/manager"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
	"github.com/core-tools/hsu-shuriken-go/pkg/scripting"
)

const helpText = `Available commands:
  list                     - List all shurikens
  list state               - List shurikens with their states
  select <name>            - Select a shuriken
  exit                     - Deselect the current shuriken
  start                    - Start the selected shuriken
  stop                     - Stop the selected shuriken
  install <path>           - Install a shuriken from a package file
  configure                - Generate configuration for the selected shuriken
  configure { k = v }      - Apply option assignments to the selected shuriken
  set <key> <value>        - Set an option for the selected shuriken
  get <key>                - Print an option of the selected shuriken
  toggle <key>             - Toggle a boolean option of the selected shuriken
  execute <script>         - Run a script file
  http <port>              - Start the HTTP API listener
  help                     - Show this message`

// Session holds interpreter state across commands: the selected shuriken
// and the HTTP listener, if one was started. A session is not safe for
// concurrent use; each interactive shell owns one.
type Session struct {
	manager  manager.Manager
	selected string
	http     *httpapi.Server
	logger   logging.Logger
}

func NewSession(mgr manager.Manager, logger logging.Logger) *Session {
	return &Session{
		manager: mgr,
		logger:  logger,
	}
}

// Selected returns the currently selected shuriken name, if any.
func (s *Session) Selected() (string, bool) {
	return s.selected, s.selected != ""
}

// Execute parses the input and dispatches its commands in order, stopping
// at the first failure. Output produced before the failure is returned
// alongside the error so callers can still print it.
func (s *Session) Execute(input string) ([]string, error) {
	commands, err := Parse(input)
	if err != nil {
		return nil, err
	}

	var output []string
	for _, cmd := range commands {
		lines, err := s.dispatch(cmd)
		output = append(output, lines...)
		if err != nil {
			return output, err
		}
	}
	return output, nil
}

// Close shuts down the HTTP listener if the session started one.
func (s *Session) Close() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.http.Stop(ctx)
	s.http = nil
	return err
}

func (s *Session) dispatch(cmd Command) ([]string, error) {
	switch cmd.Verb {
	case VerbList:
		return s.list()
	case VerbListState:
		return s.listState()
	case VerbSelect:
		return s.selectShuriken(cmd.Arg)
	case VerbExit:
		return s.deselect()
	case VerbStart:
		return s.start()
	case VerbStop:
		return s.stop()
	case VerbInstall:
		return s.install(cmd.Arg)
	case VerbConfigure:
		if cmd.Block {
			return s.applyAssignments(cmd.Assignments)
		}
		return s.configure()
	case VerbSet:
		return s.set(cmd.Key, cmd.Value)
	case VerbGet:
		return s.get(cmd.Arg)
	case VerbToggle:
		return s.toggle(cmd.Arg)
	case VerbExecute:
		return s.execute(cmd.Arg)
	case VerbHTTP:
		return s.startHTTP(cmd.Port)
	case VerbHelp:
		return []string{helpText}, nil
	}
	return nil, errors.NewInternalError("unhandled command verb", nil).
		WithContext("verb", string(cmd.Verb))
}

// requireSelection guards commands that act on the current shuriken.
func (s *Session) requireSelection(verb Verb) (string, error) {
	if s.selected == "" {
		return "", errors.NewNoSelectionError("no shuriken is selected", nil).
			WithContext("command", string(verb))
	}
	return s.selected, nil
}

func (s *Session) list() ([]string, error) {
	units := s.manager.List()
	if len(units) == 0 {
		return []string{"No shurikens installed"}, nil
	}

	names := make([]string, 0, len(units))
	for _, u := range units {
		names = append(names, u.Name)
	}
	return []string{"Shurikens: " + strings.Join(names, ", ")}, nil
}

func (s *Session) listState() ([]string, error) {
	units := s.manager.List()
	if len(units) == 0 {
		return []string{"No shurikens installed"}, nil
	}

	lines := make([]string, 0, len(units))
	for _, u := range units {
		lines = append(lines, fmt.Sprintf("%s -> %s", u.Name, u.State))
	}
	return lines, nil
}

func (s *Session) selectShuriken(name string) ([]string, error) {
	sh, err := s.manager.Get(name)
	if err != nil {
		return nil, err
	}
	s.selected = sh.Name
	return []string{"Selected shuriken " + sh.Name}, nil
}

func (s *Session) deselect() ([]string, error) {
	if s.selected == "" {
		return []string{"Nothing is selected"}, nil
	}
	name := s.selected
	s.selected = ""
	return []string{"Deselected shuriken " + name}, nil
}

func (s *Session) start() ([]string, error) {
	name, err := s.requireSelection(VerbStart)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Start(name); err != nil {
		return nil, err
	}
	return []string{"Started " + name}, nil
}

func (s *Session) stop() ([]string, error) {
	name, err := s.requireSelection(VerbStop)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Stop(name); err != nil {
		return nil, err
	}
	return []string{"Stopped " + name}, nil
}

func (s *Session) install(path string) ([]string, error) {
	sh, err := s.manager.InstallFile(path)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Installed shuriken %s (version %s)", sh.Name, sh.Manifest.Shuriken.Version)}, nil
}

func (s *Session) configure() ([]string, error) {
	name, err := s.requireSelection(VerbConfigure)
	if err != nil {
		return nil, err
	}
	if err := s.manager.Configure(name); err != nil {
		return nil, err
	}
	return []string{"Generated configuration for " + name}, nil
}

func (s *Session) applyAssignments(assignments []Assignment) ([]string, error) {
	name, err := s.requireSelection(VerbConfigure)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, nil
	}

	values := make(map[string]options.Value, len(assignments))
	lines := make([]string, 0, len(assignments))
	for _, a := range assignments {
		values[a.Key] = a.Value
		lines = append(lines, fmt.Sprintf("Set %s = %s for %s", a.Key, a.Value.Render(), name))
	}
	if err := s.manager.SetOptions(name, values); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Session) set(key string, value options.Value) ([]string, error) {
	name, err := s.requireSelection(VerbSet)
	if err != nil {
		return nil, err
	}
	if err := s.manager.SetOption(name, key, value); err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Set %s = %s for %s", key, value.Render(), name)}, nil
}

func (s *Session) get(key string) ([]string, error) {
	name, err := s.requireSelection(VerbGet)
	if err != nil {
		return nil, err
	}
	value, err := s.manager.GetOption(name, key)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("%s = %s", key, value.Render())}, nil
}

func (s *Session) toggle(key string) ([]string, error) {
	name, err := s.requireSelection(VerbToggle)
	if err != nil {
		return nil, err
	}
	enabled, err := s.manager.ToggleOption(name, key)
	if err != nil {
		return nil, err
	}
	return []string{fmt.Sprintf("Toggled %s to %t for %s", key, enabled, name)}, nil
}

func (s *Session) execute(path string) ([]string, error) {
	engine := scripting.NewEngine("", s.logger)
	if err := engine.ExecuteFile(path); err != nil {
		return nil, err
	}
	return []string{"Executed " + path}, nil
}

func (s *Session) startHTTP(port int) ([]string, error) {
	if s.http != nil {
		return nil, errors.NewValidationError("the HTTP listener is already running", nil).
			WithContext("address", s.http.Address())
	}

	srv, err := httpapi.NewServer(s.manager, port, s.logger)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(context.Background()); err != nil {
		return nil, err
	}
	s.http = srv
	return []string{"HTTP API listening on " + srv.Address()}, nil
}
