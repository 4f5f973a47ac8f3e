// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/RomanEmreis/neva-go/internal/log"
	"github.com/RomanEmreis/neva-go/internal/server"
	"github.com/RomanEmreis/neva-go/internal/telemetry"
	"github.com/RomanEmreis/neva-go/internal/util"

	// Import built-in kind packages for side effect of registration.
	_ "github.com/RomanEmreis/neva-go/internal/server/builtin"
)

var (
	// versionString stores the full semantic version, including build metadata.
	versionString string
	// versionNum indicates the numerical part of the version.
	//go:embed version.txt
	versionNum string
	// buildType indicates additional build or distribution metadata.
	buildType string = "dev" // should be one of "dev", "binary", or "container"
	// commitSha is the git commit it was built from.
	commitSha string
)

func init() {
	versionString = semanticVersion()
}

// semanticVersion returns the version of the CLI including compile-time metadata.
func semanticVersion() string {
	metadataStrings := []string{buildType, runtime.GOOS, runtime.GOARCH}
	if commitSha != "" {
		metadataStrings = append(metadataStrings, commitSha)
	}
	return strings.TrimSpace(versionNum) + "+" + strings.Join(metadataStrings, ".")
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main(). It only needs to happen
// once to the rootCmd.
func Execute() {
	if err := NewCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// Command represents an invocation of the CLI.
type Command struct {
	*cobra.Command

	cfg        server.ServerConfig
	logger     log.Logger
	configFile string
	inStream   io.Reader
	outStream  io.Writer
	errStream  io.Writer
}

// NewCommand returns a Command object representing an invocation of the CLI.
func NewCommand(opts ...Option) *Command {
	in := os.Stdin
	out := os.Stdout
	err := os.Stderr

	baseCmd := &cobra.Command{
		Use:           "neva",
		Version:       versionString,
		SilenceErrors: true,
	}
	cmd := &Command{
		Command:   baseCmd,
		cfg:       server.DefaultServerConfig(),
		inStream:  in,
		outStream: out,
		errStream: err,
	}

	for _, o := range opts {
		o(cmd)
	}

	// Set server version.
	cmd.cfg.Version = versionString

	// set baseCmd in, out and err the same as cmd.
	baseCmd.SetIn(cmd.inStream)
	baseCmd.SetOut(cmd.outStream)
	baseCmd.SetErr(cmd.errStream)

	flags := cmd.Flags()
	flags.StringVarP(&cmd.cfg.Address, "address", "a", cmd.cfg.Address, "Address of the interface the server will listen on.")
	flags.IntVarP(&cmd.cfg.Port, "port", "p", cmd.cfg.Port, "Port the server will listen on.")
	flags.StringVar(&cmd.configFile, "config-file", "neva.yaml", "File path specifying the server configuration.")
	flags.Var(&cmd.cfg.LogLevel, "log-level", "Specify the minimum level logged. Allowed: 'DEBUG', 'INFO', 'WARN', 'ERROR'.")
	flags.Var(&cmd.cfg.LoggingFormat, "logging-format", "Specify logging format to use. Allowed: 'standard' or 'json'.")
	flags.StringVar(&cmd.cfg.TelemetryOTLP, "telemetry-otlp", "", "Enable exporting using OpenTelemetry Protocol (OTLP) to the specified endpoint (e.g. 'http://127.0.0.1:4318').")
	flags.StringVar(&cmd.cfg.TelemetryServiceName, "telemetry-service-name", "neva-go", "Sets the value of the service.name resource attribute for telemetry data.")
	flags.BoolVar(&cmd.cfg.Stdio, "stdio", false, "Listens via MCP STDIO instead of acting as a remote HTTP server.")
	flags.BoolVar(&cmd.cfg.DisableReload, "disable-reload", false, "Disables dynamic reloading of the configuration file.")

	cmd.RunE = func(*cobra.Command, []string) error { return run(cmd) }

	return cmd
}

// parseConfigFile reads and parses the configuration file at path over
// cfg's already-set defaults, the generalized analogue of the teacher's
// parseToolsFile/loadAndMergeToolsFiles.
func parseConfigFile(ctx context.Context, path string, cfg server.ServerConfig) (server.ServerConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return server.ServerConfig{}, fmt.Errorf("unable to read config file at %q: %w", path, err)
	}
	return server.ParseServerConfig(ctx, buf, cfg)
}

// updateLogLevel checks whether the CLI has to raise the configured log
// level: stdio mode can't share stdout with debug/info application logs
// since that stream also carries JSON-RPC frames.
func updateLogLevel(stdio bool, logLevel string) bool {
	if stdio {
		switch strings.ToUpper(logLevel) {
		case log.Debug, log.Info:
			return true
		default:
			return false
		}
	}
	return false
}

func handleDynamicReload(ctx context.Context, cfg server.ServerConfig, s *server.Server, notify func(category string)) error {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		panic(err)
	}

	instrumentation, err := util.InstrumentationFromContext(ctx)
	if err != nil {
		panic(err)
	}

	logger.DebugContext(ctx, "attempting to validate reloaded configuration.")

	authServicesMap, caps, err := server.InitializeConfigs(ctx, cfg, logger, instrumentation, notify)
	if err != nil {
		errMsg := fmt.Errorf("unable to initialize reloaded config: %w", err)
		logger.WarnContext(ctx, errMsg.Error())
		s.BroadcastLogMessage("error", "neva-go/reload", errMsg.Error())
		return err
	}

	s.ResourceMgr.SetAuthServices(authServicesMap)
	_ = caps // the reloaded declarations only validate here: the running peer.Server keeps its original Capabilities, and only auth services are swapped.
	s.BroadcastLogMessage("info", "neva-go/reload", "configuration reloaded")

	return nil
}

// watchConfigFile watches path for changes and re-parses/re-initializes the
// server's config on every debounced write, matching the teacher's
// watchChanges debounce-then-reload shape.
func watchConfigFile(ctx context.Context, path string, cfg server.ServerConfig, s *server.Server, notify func(category string)) {
	logger, err := util.LoggerFromContext(ctx)
	if err != nil {
		panic(err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WarnContext(ctx, fmt.Sprintf("error setting up new watcher: %s", err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(filepath.Clean(path))
	if err := w.Add(dir); err != nil {
		logger.WarnContext(ctx, fmt.Sprintf("error adding path %s to watcher: %s", dir, err))
		return
	}
	logger.DebugContext(ctx, fmt.Sprintf("added directory %s to watcher.", dir))

	cleanedTarget := filepath.Clean(path)
	debounceDelay := 100 * time.Millisecond
	debounce := time.NewTimer(1 * time.Minute)
	debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "config file watcher context cancelled")
			return
		case err, ok := <-w.Errors:
			if !ok {
				logger.WarnContext(ctx, "file watcher was closed unexpectedly")
				return
			}
			if err != nil {
				logger.WarnContext(ctx, fmt.Sprintf("file watcher error: %s", err))
				return
			}
		case e, ok := <-w.Events:
			if !ok {
				logger.WarnContext(ctx, "file watcher already closed")
				return
			}
			if !e.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename) {
				continue
			}
			if filepath.Clean(e.Name) != cleanedTarget {
				continue
			}
			logger.DebugContext(ctx, fmt.Sprintf("%s event detected in %s", e.Op, cleanedTarget))
			debounce.Reset(debounceDelay)
		case <-debounce.C:
			debounce.Stop()
			reloaded, err := parseConfigFile(ctx, path, cfg)
			if err != nil {
				logger.WarnContext(ctx, fmt.Sprintf("error reloading config file: %s", err))
				continue
			}
			if err := handleDynamicReload(ctx, reloaded, s, notify); err != nil {
				logger.WarnContext(ctx, fmt.Sprintf("unable to apply reloaded config: %s", err))
			}
		}
	}
}

func run(cmd *Command) error {
	if updateLogLevel(cmd.cfg.Stdio, cmd.cfg.LogLevel.String()) {
		cmd.cfg.LogLevel = server.StringLevel(log.Warn)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	go func(sCtx context.Context) {
		var sig os.Signal
		select {
		case <-sCtx.Done():
			return
		case sig = <-signals:
		}
		switch sig {
		case syscall.SIGINT:
			cmd.logger.DebugContext(sCtx, "received SIGINT signal to shutdown.")
		case syscall.SIGTERM:
			cmd.logger.DebugContext(sCtx, "received SIGTERM signal to shutdown.")
		}
		cancel()
	}(ctx)

	logger, err := log.NewStdLogger(cmd.outStream, cmd.errStream, cmd.cfg.LogLevel.String())
	if err != nil {
		return fmt.Errorf("unable to initialize logger: %w", err)
	}
	cmd.logger = logger
	ctx = util.WithLogger(ctx, cmd.logger)

	otelShutdown, err := telemetry.SetupOTel(ctx, cmd.cfg.TelemetryServiceName, cmd.cfg.TelemetryOTLP)
	if err != nil {
		errMsg := fmt.Errorf("error setting up OpenTelemetry: %w", err)
		cmd.logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	defer func() {
		if err := otelShutdown(ctx); err != nil {
			cmd.logger.ErrorContext(ctx, fmt.Sprintf("error shutting down OpenTelemetry: %s", err))
		}
	}()

	instrumentation, err := telemetry.NewInstrumentation(nil, nil, cmd.cfg.TelemetryServiceName)
	if err != nil {
		errMsg := fmt.Errorf("unable to create telemetry instrumentation: %w", err)
		cmd.logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}
	ctx = util.WithInstrumentation(ctx, instrumentation)

	cfg, err := parseConfigFile(ctx, cmd.configFile, cmd.cfg)
	if err != nil {
		cmd.logger.ErrorContext(ctx, err.Error())
		return err
	}
	cmd.cfg = cfg

	s, err := server.NewServer(ctx, cmd.cfg, cmd.logger, instrumentation)
	if err != nil {
		errMsg := fmt.Errorf("neva-go failed to initialize: %w", err)
		cmd.logger.ErrorContext(ctx, errMsg.Error())
		return errMsg
	}

	srvErr := make(chan error)
	if cmd.cfg.Stdio {
		go func() {
			defer close(srvErr)
			if err := s.ServeStdio(ctx, cmd.inStream, cmd.outStream, cmd.errStream); err != nil {
				srvErr <- err
			}
		}()
	} else {
		if err := s.Listen(ctx); err != nil {
			errMsg := fmt.Errorf("neva-go failed to start listener: %w", err)
			cmd.logger.ErrorContext(ctx, errMsg.Error())
			return errMsg
		}
		cmd.logger.InfoContext(ctx, "server ready to serve!")

		go func() {
			defer close(srvErr)
			if err := s.Serve(ctx); err != nil {
				srvErr <- err
			}
		}()
	}

	if !cmd.cfg.DisableReload && !cmd.cfg.Stdio {
		go watchConfigFile(ctx, cmd.configFile, cmd.cfg, s, func(category string) {
			cmd.logger.DebugContext(ctx, fmt.Sprintf("capability list changed: %s", category))
		})
	}

	select {
	case err := <-srvErr:
		if err != nil {
			errMsg := fmt.Errorf("neva-go crashed with the following error: %w", err)
			cmd.logger.ErrorContext(ctx, errMsg.Error())
			return errMsg
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		cmd.logger.WarnContext(shutdownCtx, "shutting down gracefully...")
		if err := s.Shutdown(shutdownCtx); err == context.DeadlineExceeded {
			return fmt.Errorf("graceful shutdown timed out... forcing exit")
		}
	}

	return nil
}
