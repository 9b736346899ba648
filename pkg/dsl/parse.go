// Package dsl implements the shuriken command language: a line-oriented
// grammar parsed into commands and a session that dispatches them against
// a manager.
package dsl

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
)

// Verb names a parsed command.
type Verb string

const (
	VerbList      Verb = "list"
	VerbListState Verb = "list state"
	VerbSelect    Verb = "select"
	VerbExit      Verb = "exit"
	VerbStart     Verb = "start"
	VerbStop      Verb = "stop"
	VerbInstall   Verb = "install"
	VerbConfigure Verb = "configure"
	VerbSet       Verb = "set"
	VerbGet       Verb = "get"
	VerbToggle    Verb = "toggle"
	VerbExecute   Verb = "execute"
	VerbHTTP      Verb = "http"
	VerbHelp      Verb = "help"
)

// Assignment is one key=value pair from a configure block, in source order.
type Assignment struct {
	Key   string
	Value options.Value
}

// Command is one parsed directive. Arg carries the operand of select,
// install, get, toggle and execute; Key and Value belong to set; Block
// distinguishes `configure { ... }` from plain `configure`.
type Command struct {
	Verb        Verb
	Arg         string
	Key         string
	Value       options.Value
	Block       bool
	Assignments []Assignment
	Port        int
}

// Parse turns a script into its command sequence. Commands are separated
// by newlines; a configure block may span several lines. The first
// malformed directive fails the whole input.
func Parse(input string) ([]Command, error) {
	lines := strings.Split(input, "\n")

	var commands []Command
	for i := 0; i < len(lines); i++ {
		line := strings.TrimSpace(stripComments(lines[i]))
		if line == "" {
			continue
		}

		tokens, err := tokenize(line)
		if err != nil {
			return nil, err
		}
		if len(tokens) == 0 {
			continue
		}

		if tokens[0].text == "configure" {
			if brace := strings.Index(line, "{"); brace >= 0 {
				content, consumed, err := collectBlock(line[brace+1:], lines[i+1:])
				if err != nil {
					return nil, err
				}
				i += consumed

				assignments, err := parseAssignments(content)
				if err != nil {
					return nil, err
				}
				commands = append(commands, Command{Verb: VerbConfigure, Block: true, Assignments: assignments})
				continue
			}
		}

		cmd, err := parseTokens(tokens)
		if err != nil {
			return nil, err
		}
		commands = append(commands, cmd)
	}

	return commands, nil
}

// NeedsContinuation reports whether input opens a configure block that no
// line has closed yet, so interactive callers can keep reading.
func NeedsContinuation(input string) bool {
	open := false
	for _, raw := range strings.Split(input, "\n") {
		line := strings.TrimSpace(stripComments(raw))
		if open {
			if strings.HasSuffix(line, "}") {
				open = false
			}
			continue
		}
		if brace := strings.Index(line, "{"); brace >= 0 {
			rest := strings.TrimSpace(line[brace+1:])
			if !strings.HasSuffix(rest, "}") {
				open = true
			}
		}
	}
	return open
}

// stripComments removes a trailing `//` or `#` comment. Comment markers
// inside quotes are kept.
func stripComments(line string) string {
	var quote rune
	for i, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '#':
			return line[:i]
		case r == '/' && strings.HasPrefix(line[i:], "//"):
			return line[:i]
		}
	}
	return line
}

type token struct {
	text   string
	quoted bool
}

// tokenize splits a directive on whitespace, honoring quotes. Bare `=`
// tokens are dropped so `set key = value` and `set key value` read the
// same.
func tokenize(line string) ([]token, error) {
	var tokens []token
	var current strings.Builder
	currentQuoted := false
	inToken := false
	var quote rune

	flush := func() {
		if !inToken {
			return
		}
		text := current.String()
		if text != "=" || currentQuoted {
			tokens = append(tokens, token{text: text, quoted: currentQuoted})
		}
		current.Reset()
		currentQuoted = false
		inToken = false
	}

	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '"' || r == '\'':
			quote = r
			currentQuoted = true
			inToken = true
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, errors.NewParseError("unterminated quote", nil).WithContext("input", line)
	}
	flush()

	return tokens, nil
}

// collectBlock gathers the text between a configure block's braces. The
// part of the opening line after `{` may already close it; otherwise
// following lines are consumed until one ends with `}`.
func collectBlock(afterBrace string, rest []string) (string, int, error) {
	first := strings.TrimSpace(stripComments(afterBrace))
	if strings.HasSuffix(first, "}") {
		return strings.TrimSuffix(first, "}"), 0, nil
	}

	var b strings.Builder
	b.WriteString(first)
	for i, raw := range rest {
		line := strings.TrimSpace(stripComments(raw))
		if strings.HasSuffix(line, "}") {
			b.WriteString("\n")
			b.WriteString(strings.TrimSuffix(line, "}"))
			return b.String(), i + 1, nil
		}
		b.WriteString("\n")
		b.WriteString(line)
	}

	return "", 0, errors.NewParseError("configure block is missing its closing '}'", nil)
}

// parseAssignments splits block content on newlines and semicolons into
// ordered key=value pairs.
func parseAssignments(content string) ([]Assignment, error) {
	assignments := []Assignment{}
	for _, chunk := range strings.FieldsFunc(content, func(r rune) bool {
		return r == ';' || r == '\n'
	}) {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}

		eq := strings.Index(chunk, "=")
		if eq < 0 {
			return nil, errors.NewParseError("expected a key=value assignment", nil).
				WithContext("input", chunk)
		}
		key := strings.TrimSpace(chunk[:eq])
		if key == "" {
			return nil, errors.NewParseError("assignment has an empty key", nil).
				WithContext("input", chunk)
		}

		raw := strings.TrimSpace(chunk[eq+1:])
		assignments = append(assignments, Assignment{Key: key, Value: options.ParseLiteral(raw)})
	}
	return assignments, nil
}

// parseTokens maps one tokenized directive to its command.
func parseTokens(tokens []token) (Command, error) {
	verb := tokens[0].text
	switch verb {
	case "list":
		if len(tokens) == 1 {
			return Command{Verb: VerbList}, nil
		}
		if len(tokens) == 2 && strings.EqualFold(tokens[1].text, "state") {
			return Command{Verb: VerbListState}, nil
		}
		return Command{}, errors.NewParseError("list takes no argument or the word 'state'", nil).
			WithContext("input", tokens[1].text)

	case "select":
		arg, err := oneArg(tokens, "select", "a shuriken name")
		return Command{Verb: VerbSelect, Arg: arg}, err

	case "exit":
		return noArgs(tokens, VerbExit)

	case "start":
		return noArgs(tokens, VerbStart)

	case "stop":
		return noArgs(tokens, VerbStop)

	case "install":
		arg, err := oneArg(tokens, "install", "a package path")
		return Command{Verb: VerbInstall, Arg: arg}, err

	case "configure":
		return noArgs(tokens, VerbConfigure)

	case "set":
		if len(tokens) != 3 {
			return Command{}, errors.NewParseError("set requires a key and a value", nil)
		}
		value := options.ParseLiteral(tokens[2].text)
		if tokens[2].quoted {
			value = options.String(tokens[2].text)
		}
		return Command{Verb: VerbSet, Key: tokens[1].text, Value: value}, nil

	case "get":
		arg, err := oneArg(tokens, "get", "an option key")
		return Command{Verb: VerbGet, Arg: arg}, err

	case "toggle":
		arg, err := oneArg(tokens, "toggle", "an option key")
		return Command{Verb: VerbToggle, Arg: arg}, err

	case "execute":
		arg, err := oneArg(tokens, "execute", "a script path")
		return Command{Verb: VerbExecute, Arg: arg}, err

	case "http":
		if len(tokens) != 2 {
			return Command{}, errors.NewParseError("http requires a port number", nil)
		}
		port, err := parsePort(tokens[1].text)
		if err != nil {
			return Command{}, err
		}
		return Command{Verb: VerbHTTP, Port: port}, nil

	case "help":
		return noArgs(tokens, VerbHelp)
	}

	return Command{}, errors.NewParseError("unknown command", nil).WithContext("command", verb)
}

func oneArg(tokens []token, verb, operand string) (string, error) {
	if len(tokens) != 2 {
		return "", errors.NewParseError(verb+" requires "+operand, nil)
	}
	return tokens[1].text, nil
}

func noArgs(tokens []token, verb Verb) (Command, error) {
	if len(tokens) != 1 {
		return Command{}, errors.NewParseError(string(verb)+" takes no arguments", nil)
	}
	return Command{Verb: verb}, nil
}

func parsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewParseError("http requires a numeric port", nil).
			WithContext("input", raw)
	}
	if port < 1 || port > 65535 {
		return 0, errors.NewParseError("http port is out of range", nil).
			WithContext("input", raw).
			WithContext("valid_range", "1-65535")
	}
	return port, nil
}
