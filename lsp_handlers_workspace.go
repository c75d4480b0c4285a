// sorovet/lsp_handlers_workspace.go
// Contains LSP method handlers related to workspace events: configuration
// changes and server-provided commands.
package sorovet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/sourcegraph/jsonrpc2"
)

// Server-provided workspace commands. Build, deploy, invoke, and bindings go
// through the Soroban toolchain binary; test goes through cargo.
const (
	cmdRestart  = "sorovet.restart"
	cmdBuild    = "sorovet.build"
	cmdTest     = "sorovet.test"
	cmdDeploy   = "sorovet.deploy"
	cmdInvoke   = "sorovet.invoke"
	cmdBindings = "sorovet.bindings"
)

// toolchainTimeout bounds one external toolchain invocation.
const toolchainTimeout = 5 * time.Minute

// serverCommands lists the commands announced in the initialize response.
func serverCommands() []string {
	return []string{cmdRestart, cmdBuild, cmdTest, cmdDeploy, cmdInvoke, cmdBindings}
}

// ============================================================================
// LSP Workspace Method Handlers
// ============================================================================

// handleDidChangeConfiguration handles configuration changes from the client.
// Settings arrive under a "sorovet" section (or flat, for clients that do not
// nest); set fields merge onto the current config, and the per-document
// settings cache is cleared wholesale so the next pass re-resolves.
func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	configLogger := logger.With("req_id", req.ID)
	configLogger.Info("Handling workspace/didChangeConfiguration")

	var changedSettings struct {
		Sorovet FileConfig `json:"sorovet"`
	}

	if err := json.Unmarshal(params.Settings, &changedSettings); err != nil {
		configLogger.Error("Failed to unmarshal workspace/didChangeConfiguration settings", "error", err, "raw_settings", string(params.Settings))
		// Some clients send the section contents flatly.
		var directFileCfg FileConfig
		if directErr := json.Unmarshal(params.Settings, &directFileCfg); directErr == nil {
			configLogger.Info("Successfully unmarshalled settings directly into FileConfig (no 'sorovet' nesting)")
			changedSettings.Sorovet = directFileCfg
		} else {
			configLogger.Error("Also failed to unmarshal settings directly into FileConfig", "direct_error", directErr)
			return nil, nil
		}
	}

	newConfig := s.service.GetCurrentConfig()
	mergedFields := changedSettings.Sorovet.MergeInto(&newConfig)

	if mergedFields > 0 {
		configLogger.Info("Applying configuration changes from client", "fields_merged", mergedFields)
		if err := s.service.UpdateConfig(newConfig); err != nil {
			configLogger.Error("Failed to apply updated configuration", "error", err)
			s.sendShowMessage(MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
			return nil, nil
		}
		configLogger.Info("Server configuration updated successfully via workspace/didChangeConfiguration")

		// Republish under the new settings baseline.
		for _, uri := range s.service.Sessions().URIs() {
			if snap, ok := s.service.Sessions().Get(uri); ok {
				go s.triggerDiagnostics(snap)
			}
		}
	} else {
		configLogger.Debug("No relevant configuration changes found in workspace/didChangeConfiguration notification")
	}

	return nil, nil
}

// handleExecuteCommand dispatches workspace/executeCommand requests.
func (s *Server) handleExecuteCommand(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params ExecuteCommandParams, logger *slog.Logger) (any, error) {
	cmdLogger := logger.With("command", params.Command)
	cmdLogger.Info("Handling workspace/executeCommand")

	switch params.Command {
	case cmdRestart:
		return s.executeRestart(cmdLogger)

	case cmdBuild, cmdTest, cmdDeploy, cmdInvoke, cmdBindings:
		return s.executeToolchainCommand(ctx, params, cmdLogger)

	default:
		cmdLogger.Warn("Unknown command requested")
		return nil, &jsonrpc2.Error{
			Code:    int64(JsonRpcInvalidParams),
			Message: fmt.Sprintf("%v: %s", ErrUnknownCommand, params.Command),
		}
	}
}

// executeRestart clears all session state. Open documents get an empty
// diagnostic set pushed first so stale findings never outlive the restart;
// clients re-sync content afterwards.
func (s *Server) executeRestart(logger *slog.Logger) (any, error) {
	logger.Info("Restarting analysis session state")
	for _, uri := range s.service.Sessions().URIs() {
		s.publishDiagnostics(uri, nil, []LspDiagnostic{})
	}
	s.service.Reset()
	s.sendShowMessage(MessageTypeInfo, "sorovet: analysis state reset")
	return nil, nil
}

// executeToolchainCommand runs one external toolchain invocation and returns
// its combined output. Arguments arrive as JSON strings and are passed
// through verbatim after the subcommand.
func (s *Server) executeToolchainCommand(ctx context.Context, params ExecuteCommandParams, logger *slog.Logger) (any, error) {
	cfg := s.service.GetCurrentConfig()

	var bin string
	var args []string
	switch params.Command {
	case cmdBuild:
		bin, args = cfg.ToolchainPath, []string{"contract", "build"}
	case cmdTest:
		bin, args = cfg.CargoPath, []string{"test"}
	case cmdDeploy:
		bin, args = cfg.ToolchainPath, []string{"contract", "deploy"}
	case cmdInvoke:
		bin, args = cfg.ToolchainPath, []string{"contract", "invoke"}
	case cmdBindings:
		bin, args = cfg.ToolchainPath, []string{"contract", "bindings", "typescript"}
	}

	for i, raw := range params.Arguments {
		var arg string
		if err := json.Unmarshal(raw, &arg); err != nil {
			logger.Warn("Skipping non-string command argument", "index", i, "error", err)
			continue
		}
		args = append(args, arg)
	}

	runCtx, cancel := context.WithTimeout(ctx, toolchainTimeout)
	defer cancel()

	logger.Info("Running toolchain command", "bin", bin, "args", args)
	cmd := exec.CommandContext(runCtx, bin, args...)
	output, runErr := cmd.CombinedOutput()
	outText := strings.TrimSpace(string(output))

	if runErr != nil {
		logger.Error("Toolchain command failed", "bin", bin, "error", runErr, "output", outText)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("%s failed: %v", params.Command, runErr))
		return nil, &jsonrpc2.Error{
			Code:    int64(JsonRpcRequestFailed),
			Message: fmt.Sprintf("%v: %s: %v", ErrToolchainFailed, params.Command, runErr),
		}
	}

	logger.Info("Toolchain command succeeded", "bin", bin, "output_bytes", len(output))
	s.sendShowMessage(MessageTypeInfo, fmt.Sprintf("%s completed", params.Command))
	return outText, nil
}
