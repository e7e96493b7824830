package dafny

// environment.go resolves how to launch the verifier: directly, or hosted in a
// managed runtime, and with which spawn options.

import (
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/sanjit/dafny-mcp/internal/config"
)

// Command is an executable invocation plan.
type Command struct {
	Path string
	Args []string
}

func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// SpawnOptions configures the child process.
type SpawnOptions struct {
	Dir string
	Env []string
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// ResolveVerifierCommand builds the invocation for the configured server.
//
// Errors:
//
//	ErrPathNotConfigured - server_path is empty
//	ErrServerNotFound    - server_path does not point at an existing file
//	ErrRuntimeMissing    - a managed runtime is needed but none was found
//
// All three are wrapped in a *ConfigError carrying a stable code.
func ResolveVerifierCommand(s config.Settings) (Command, error) {
	if s.ServerPath == "" {
		return Command{}, &ConfigError{Code: EPathNotConfigured, Msg: "server_path is not set", Cause: ErrPathNotConfigured}
	}
	serverPath, err := resolveServerPath(s.ServerPath)
	if err != nil {
		return Command{}, &ConfigError{Code: EIncorrectPath, Msg: "cannot find " + s.ServerPath, Cause: ErrServerNotFound}
	}

	if !needsRuntime(s, serverPath) {
		return Command{Path: serverPath, Args: append([]string{}, s.ServerArgs...)}, nil
	}

	rt, err := resolveRuntime(s)
	if err != nil {
		return Command{}, err
	}
	args := append([]string{serverPath}, s.ServerArgs...)
	return Command{Path: rt, Args: args}, nil
}

// ResolveSpawnOptions sets the working directory when one is given.
func ResolveSpawnOptions(workingDir string) SpawnOptions {
	return SpawnOptions{Dir: workingDir}
}

func resolveServerPath(p string) (string, error) {
	if strings.ContainsRune(p, os.PathSeparator) || strings.ContainsRune(p, '/') {
		if _, err := os.Stat(p); err != nil {
			return "", err
		}
		return p, nil
	}
	return lookPath(p)
}

func needsRuntime(s config.Settings, serverPath string) bool {
	if s.UseRuntime {
		return true
	}
	return runtime.GOOS != "windows" && strings.HasSuffix(strings.ToLower(serverPath), ".exe")
}

// resolveRuntime prefers the runtime on PATH over a configured path that does
// not exist, and warns when a configured path goes unused.
func resolveRuntime(s config.Settings) (string, error) {
	name := s.RuntimeName
	if name == "" {
		name = "mono"
	}

	customOK := false
	if s.RuntimePath != "" {
		if info, err := os.Stat(s.RuntimePath); err == nil && !info.IsDir() {
			customOK = true
		}
	}
	if customOK {
		return s.RuntimePath, nil
	}

	if p, err := lookPath(name); err == nil {
		if s.RuntimePath != "" {
			slog.Warn("configured runtime_path not found, using runtime from PATH",
				slog.String("runtime_path", s.RuntimePath),
				slog.String("using", p),
			)
		}
		return p, nil
	}
	return "", &ConfigError{Code: ERuntimeMissing, Msg: name + " not found on PATH or at runtime_path", Cause: ErrRuntimeMissing}
}
