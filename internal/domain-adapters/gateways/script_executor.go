package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ochairo/reposync/internal/domain/entities"
	"github.com/ochairo/reposync/internal/domain/interfaces"
)

// ScriptExecutor handles execution of build scripts
type ScriptExecutor struct {
	defaultTimeout time.Duration
	logger         interfaces.Logger
}

// NewScriptExecutor creates a new script executor
func NewScriptExecutor(logger interfaces.Logger) *ScriptExecutor {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ScriptExecutor{
		defaultTimeout: 30 * time.Minute,
		logger:         logger,
	}
}

// ExecuteScriptConfig contains configuration for executing a shell script.
type ExecuteScriptConfig struct {
	Script      string
	WorkingDir  string
	Env         map[string]string
	Timeout     time.Duration
	Description string
}

// ExecuteResult contains the result of script execution
type ExecuteResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// Output joins captured stdout and stderr
func (r *ExecuteResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + r.Stderr
	}
}

// ExecuteScript runs a shell script with the given configuration
func (se *ScriptExecutor) ExecuteScript(ctx context.Context, config ExecuteScriptConfig) *ExecuteResult {
	startTime := time.Now()
	result := &ExecuteResult{}

	// Use default timeout if not specified
	timeout := config.Timeout
	if timeout == 0 {
		timeout = se.defaultTimeout
	}

	// Create context with timeout
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Create shell command
	// Use /bin/sh for maximum compatibility
	//nolint:gosec // G204: Script execution is intentional and controlled by catalog configuration
	cmd := exec.CommandContext(execCtx, "/bin/sh", "-c", config.Script)

	// Set working directory
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}

	// Build environment variables
	env := os.Environ()
	for key, value := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}
	cmd.Env = env

	// Capture stdout and stderr
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if config.Description != "" {
		se.logger.Debug("Executing script", interfaces.F("step", config.Description))
	}

	// Execute command
	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		var exitErr *exec.ExitError
		//nolint:gocritic // ifElseChain: checking different error types, not suitable for switch
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		} else if execCtx.Err() == context.DeadlineExceeded {
			result.Error = fmt.Errorf("script execution timeout after %v", timeout)
			result.ExitCode = -1
		} else {
			result.ExitCode = -1
		}
		return result
	}

	result.Success = true
	result.ExitCode = 0
	return result
}

// PrepareScriptConfig describes one run of a product's prepare script
type PrepareScriptConfig struct {
	Script    string
	Product   *entities.Product
	Record    *entities.ArtifactRecord
	SourceDir string // Extracted upstream tree, also the working directory
	StageDir  string // Tree that ends up under the package's install root
}

// RunPrepare executes a product's prepare script against an extracted source tree.
// The combined output is returned alongside any failure.
func (se *ScriptExecutor) RunPrepare(ctx context.Context, config PrepareScriptConfig) (string, error) {
	if err := se.ValidateScript(config.Script); err != nil {
		return "", err
	}

	env := map[string]string{
		"PACKAGE":     config.Record.PackageName(),
		"PRODUCT":     config.Product.ID,
		"VERSION":     config.Record.VersionString,
		"ARCH":        config.Record.Architecture.PackagingName(),
		"SOURCE_DIR":  config.SourceDir,
		"INSTALL_DIR": config.StageDir,
	}

	result := se.ExecuteScript(ctx, ExecuteScriptConfig{
		Script:      config.Script,
		WorkingDir:  config.SourceDir,
		Env:         env,
		Description: "prepare " + config.Record.String(),
	})

	if !result.Success {
		return result.Output(), fmt.Errorf("prepare script failed (exit %d): %w", result.ExitCode, result.Error)
	}

	se.logger.Debug("Prepare script finished",
		interfaces.F("artifact", config.Record.String()),
		interfaces.F("duration", result.Duration))
	return result.Output(), nil
}

// ValidateScript performs basic validation on a shell script
func (se *ScriptExecutor) ValidateScript(script string) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("script is empty")
	}

	// Check for potentially dangerous commands (basic security check)
	dangerous := []string{
		"rm -rf /",
		"mkfs",
		"dd if=/dev/zero",
		":(){:|:&};:", // fork bomb
	}

	for _, pattern := range dangerous {
		if strings.Contains(script, pattern) {
			return fmt.Errorf("script contains potentially dangerous pattern: %s", pattern)
		}
	}

	return nil
}
