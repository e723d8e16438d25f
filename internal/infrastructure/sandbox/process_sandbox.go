// Package sandbox runs the bash tool (internal/tool.NewBashTool) in its
// own process group with a timeout and an allowed-binary list, rather
// than inline in the loop goroutine. It isolates process lifetime, not
// the filesystem: commands still see the real $HOME so git, ssh, and
// language toolchains behave as they would in a normal shell.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config controls one ProcessSandbox's working directory, binary
// allow-list, and resource limits.
type Config struct {
	WorkDir       string        // working directory for spawned commands
	Timeout       time.Duration // per-command execution timeout
	AllowedBins   []string      // binary names permitted to run
	MemoryLimit   int64         // memory limit in bytes (advisory, not enforced via cgroups here)
	EnableNetwork bool          // whether to forward proxy env vars
	TempDir       string        // scratch dir for ExecuteScript's temp files
	PythonEnv     string        // conda/venv root to prepend onto PATH, if any
}

// DefaultConfig returns the sandbox config wireLoop passes to
// NewProcessSandbox: real $HOME as the working directory (the sandbox
// isolates process groups and timeouts, not the filesystem) and a
// binary allow-list wide enough for an agentic coding session.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	if homeDir == "" {
		homeDir = "/tmp/contextpilot-sandbox" // fallback only
	}
	return &Config{
		WorkDir: homeDir,
		Timeout: 30 * time.Second,
		AllowedBins: []string{
			// the shell itself (ExecuteShell uses bash -c)
			"bash", "sh",
			// core utilities
			"ls", "cat", "head", "tail", "grep", "awk", "sed",
			"find", "wc", "sort", "uniq", "cut", "tr",
			// file operations
			"cp", "mv", "rm", "mkdir", "touch", "chmod", "chown",
			// dev toolchains
			"go", "python", "python3", "node", "npm", "npx",
			"git", "make", "cargo", "rustc",
			// system info
			"pwd", "whoami", "date", "env", "echo", "printf",
			// network
			"curl", "wget",
			// ssh, for remote system management tasks
			"ssh", "scp", "ssh-keygen", "ssh-copy-id", "sshpass",
			// system administration
			"systemctl", "journalctl", "docker", "ping", "ip", "ss",
			"tar", "gzip", "unzip", "rsync",
		},
		MemoryLimit:   512 * 1024 * 1024, // 512MB
		EnableNetwork: true,
		TempDir:       "/tmp/contextpilot-sandbox-tmp",
	}
}

// ProcessSandbox executes shell commands in isolated process groups,
// one per bash-tool invocation.
type ProcessSandbox struct {
	config *Config
	logger *zap.Logger
}

// NewProcessSandbox creates the work and temp directories cfg names and
// returns a ready ProcessSandbox.
func NewProcessSandbox(config *Config, logger *zap.Logger) (*ProcessSandbox, error) {
	if err := os.MkdirAll(config.WorkDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}

	if err := os.MkdirAll(config.TempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &ProcessSandbox{
		config: config,
		logger: logger,
	}, nil
}

// Result is the outcome of one Execute/ExecuteScript/ExecuteShell call.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	Killed   bool // true if the command was killed for exceeding Config.Timeout
}

// Execute runs command with args inside the sandbox's process group,
// enforcing the allow-list and timeout.
func (s *ProcessSandbox) Execute(ctx context.Context, command string, args []string) (*Result, error) {
	startTime := time.Now()

	if !s.isAllowed(command) {
		return nil, fmt.Errorf("command '%s' is not allowed", command)
	}

	cmdPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("command not found: %s", command)
	}

	execCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, cmdPath, args...)
	cmd.Dir = s.config.WorkDir
	cmd.Env = s.buildEnvironment()
	cmd.SysProcAttr = s.buildSysProcAttr()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	s.logger.Info("executing sandboxed command",
		zap.String("command", command),
		zap.Strings("args", args),
		zap.String("work_dir", s.config.WorkDir),
	)

	err = cmd.Run()

	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
	}

	if execCtx.Err() == context.DeadlineExceeded {
		result.Killed = true
		result.ExitCode = -1
		s.logger.Warn("command killed due to timeout",
			zap.String("command", command),
			zap.Duration("timeout", s.config.Timeout),
		)
		return result, fmt.Errorf("command timed out after %v", s.config.Timeout)
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return result, fmt.Errorf("execution failed: %w", err)
		}
	}

	s.logger.Info("command completed",
		zap.String("command", command),
		zap.Int("exit_code", result.ExitCode),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}

// ExecuteScript writes script to a temp file under Config.TempDir and
// runs it with interpreter.
func (s *ProcessSandbox) ExecuteScript(ctx context.Context, interpreter string, script string) (*Result, error) {
	tmpFile, err := os.CreateTemp(s.config.TempDir, "script-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp script: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(script); err != nil {
		return nil, fmt.Errorf("failed to write script: %w", err)
	}
	tmpFile.Close()

	return s.Execute(ctx, interpreter, []string{tmpFile.Name()})
}

// ExecuteShell runs command as `bash -c command`; this is what
// internal/tool's bash tool calls.
func (s *ProcessSandbox) ExecuteShell(ctx context.Context, command string) (*Result, error) {
	return s.Execute(ctx, "bash", []string{"-c", command})
}

func (s *ProcessSandbox) isAllowed(command string) bool {
	baseName := filepath.Base(command)

	for _, allowed := range s.config.AllowedBins {
		if allowed == baseName || allowed == command {
			return true
		}
	}
	return false
}

// buildEnvironment assembles the environment passed to spawned
// commands: real PATH/HOME so ssh, git, and language toolchains work,
// plus whatever Python env and proxy settings are configured.
func (s *ProcessSandbox) buildEnvironment() []string {
	sysPath := os.Getenv("PATH")
	if sysPath == "" {
		sysPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
	}

	if s.config.PythonEnv != "" {
		envBin := filepath.Join(s.config.PythonEnv, "bin")
		sysPath = envBin + ":" + sysPath
	}

	realHome, _ := os.UserHomeDir()
	if realHome == "" {
		realHome = s.config.WorkDir
	}

	env := []string{
		"PATH=" + sysPath,
		"HOME=" + realHome,
		"TMPDIR=" + s.config.TempDir,
		"LANG=en_US.UTF-8",
		"LC_ALL=en_US.UTF-8",
		"USER=" + os.Getenv("USER"),
	}

	if s.config.PythonEnv != "" {
		env = append(env,
			"CONDA_PREFIX="+s.config.PythonEnv,
			"VIRTUAL_ENV="+s.config.PythonEnv,
		)
	}

	if s.config.EnableNetwork {
		if proxy := os.Getenv("HTTP_PROXY"); proxy != "" {
			env = append(env, "HTTP_PROXY="+proxy)
		}
		if proxy := os.Getenv("HTTPS_PROXY"); proxy != "" {
			env = append(env, "HTTPS_PROXY="+proxy)
		}
	}

	return env
}

func (s *ProcessSandbox) buildSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

// SetWorkDir changes the working directory used by subsequent Execute
// calls, after verifying dir exists.
func (s *ProcessSandbox) SetWorkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("invalid work dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("work dir is not a directory: %s", dir)
	}

	s.config.WorkDir = dir
	return nil
}

// GetWorkDir returns the sandbox's current working directory.
func (s *ProcessSandbox) GetWorkDir() string {
	return s.config.WorkDir
}

// AddAllowedBin extends the binary allow-list at runtime.
func (s *ProcessSandbox) AddAllowedBin(bin string) {
	s.config.AllowedBins = append(s.config.AllowedBins, bin)
}

// Cleanup removes leftover ExecuteScript temp files from Config.TempDir.
func (s *ProcessSandbox) Cleanup() error {
	entries, err := os.ReadDir(s.config.TempDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		path := filepath.Join(s.config.TempDir, entry.Name())
		if strings.HasPrefix(entry.Name(), "script-") {
			os.Remove(path)
		}
	}

	return nil
}
