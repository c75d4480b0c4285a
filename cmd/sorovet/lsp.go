package main

import (
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/sorovet/sorovet"
)

var lspCmd = &cobra.Command{
	Use:   "lsp",
	Short: "Run the analysis service as an LSP server over stdio",
	Long:  `Run the language server. The client communicates over stdin/stdout, so all logging goes to stderr and the log file`,
	Args:  cobra.NoArgs,
	RunE:  runLsp,
}

func init() {
	lspCmd.Flags().String("log-file", "sorovet-lsp.log", "path of the server log file")
	lspCmd.Flags().String("debug-addr", "localhost:6061", "listen address for the pprof/expvar debug server (empty to disable)")
}

func runLsp(cmd *cobra.Command, args []string) error {
	logFilePath, err := cmd.Flags().GetString("log-file")
	if err != nil {
		return fmt.Errorf("failed to get log-file flag: %w", err)
	}
	debugAddr, err := cmd.Flags().GetString("debug-addr")
	if err != nil {
		return fmt.Errorf("failed to get debug-addr flag: %w", err)
	}

	// Stdout carries the protocol stream; logs go to stderr plus the file.
	logFile, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o660)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	logWriter := io.MultiWriter(os.Stderr, logFile)

	// Basic logger for init; the configured level is only known after the
	// service has loaded its config.
	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	service, initErr := sorovet.NewService(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to initialize analysis service", "error", initErr)
		if !errors.Is(initErr, sorovet.ErrConfig) {
			return initErr
		}
		if service == nil {
			return initErr
		}
	}
	defer func() {
		slog.Info("Closing analysis service...")
		if err := service.Close(); err != nil {
			slog.Error("Error closing service", "error", err)
		}
	}()

	logLevel := resolveLogLevel(cmd, service.GetCurrentConfig().LogLevel, tempLogger)
	handlerOpts := slog.HandlerOptions{Level: logLevel, AddSource: true}
	logger := slog.New(slog.NewTextHandler(logWriter, &handlerOpts))
	slog.SetDefault(logger)

	slog.Info("sorovet LSP server starting...", "version", appVersion, "log_level", logLevel.String())
	if initErr != nil && errors.Is(initErr, sorovet.ErrConfig) {
		slog.Warn("Service initialized with configuration warnings", "error", initErr)
	}

	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	if debugAddr != "" {
		startDebugServer(debugAddr)
	}

	lspServer := sorovet.NewServer(service, logger, appVersion)
	lspServer.Run(os.Stdin, os.Stdout)

	slog.Info("LSP server has shut down gracefully.")
	return nil
}

// resolveLogLevel prefers the --log-level flag over the configured level.
func resolveLogLevel(cmd *cobra.Command, configured string, logger *slog.Logger) slog.Level {
	levelStr := configured
	if flagLevel, err := cmd.Root().PersistentFlags().GetString("log-level"); err == nil && flagLevel != "" {
		levelStr = flagLevel
	}
	level, err := sorovet.ParseLogLevel(levelStr)
	if err != nil {
		logger.Warn("Invalid log level, using default 'info'", "level", levelStr, "error", err)
		return slog.LevelInfo
	}
	return level
}

// startDebugServer starts the HTTP server for pprof and expvar.
func startDebugServer(addr string) {
	go func() {
		slog.Info("Starting debug server for pprof/expvar", "addr", addr)
		debugMux := http.NewServeMux()
		debugMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/vars", expvar.Handler().ServeHTTP)
		if err := http.ListenAndServe(addr, debugMux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
