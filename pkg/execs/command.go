package execs

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
)

var (
	// ErrCommandExecution is returned when command execution fails.
	ErrCommandExecution = errors.New("run")

	// ErrEmptyCommand is returned when a command is empty.
	ErrEmptyCommand = errors.New("empty command")
)

// EnvPrefix marks caller environment variables that are passed through to
// commands.
const EnvPrefix = "RULEBOOK_"

var essentialVars = []string{"PATH", "HOME", "USER", "TERM", "COLORTERM", "SHELL", "TMPDIR"}

// Result represents the result of a command execution.
type Result struct {
	Stdout string
	Stderr string
}

// Command is an external command line.
type Command struct {
	baseEnv map[string]string
	// Env holds variables set for the command, on top of the inherited ones.
	Env map[string]string
	// Command is the executable to run.
	Command string
	// Args contains the command line arguments.
	Args []string
}

// NewCommand creates a new [Command].
// It accepts a base environment, which usually will be from [os.Environ].
func NewCommand(baseEnv []string) Command {
	c := Command{Env: map[string]string{}}
	c.SetBaseEnv(baseEnv)

	return c
}

// ParseCommand parses a shell-like command line into a [Command]. Quoting
// follows POSIX shell words; leading NAME=value words become environment
// variables. Pipes, redirects and variable expansion are not supported.
func ParseCommand(line string, baseEnv []string) (Command, error) {
	envs, args, err := shellwords.ParseWithEnvs(line)
	if err != nil {
		return Command{}, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return Command{}, ErrEmptyCommand
	}

	c := NewCommand(baseEnv)
	c.Command = args[0]
	c.Args = args[1:]

	for _, kv := range envs {
		k, v, _ := strings.Cut(kv, "=")
		c.SetEnv(k, v)
	}

	return c, nil
}

// SetBaseEnv replaces the inherited environment.
func (c *Command) SetBaseEnv(baseEnv []string) {
	c.baseEnv = make(map[string]string)
	for _, kv := range baseEnv {
		if k, v, ok := strings.Cut(kv, "="); ok && k != "" {
			c.baseEnv[k] = v
		}
	}
}

// SetEnv sets one environment variable for the command.
func (c *Command) SetEnv(key, value string) {
	if key == "" {
		return
	}
	if c.Env == nil {
		c.Env = map[string]string{}
	}

	c.Env[key] = value
}

// GetEnv constructs environment variables for command execution, sorted by
// name. Essential and RULEBOOK_* variables are inherited; [Command.Env]
// takes precedence over them.
func (c *Command) GetEnv() []string {
	envMap := make(map[string]string)

	for k, v := range c.baseEnv {
		if slices.Contains(essentialVars, k) || strings.HasPrefix(k, EnvPrefix) {
			envMap[k] = v
		}
	}

	maps.Copy(envMap, c.Env)

	env := make([]string, 0, len(envMap))
	for _, k := range slices.Sorted(maps.Keys(envMap)) {
		env = append(env, k+"="+envMap[k])
	}

	return env
}

func (c *Command) String() string {
	return strings.TrimSpace(fmt.Sprintf("%s %s", c.Command, strings.Join(c.Args, " ")))
}
