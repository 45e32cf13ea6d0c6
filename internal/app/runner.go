package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ggonzalez94/xbridge/internal/cache"
	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/config"
	clierr "github.com/ggonzalez94/xbridge/internal/errors"
	"github.com/ggonzalez94/xbridge/internal/execution"
	"github.com/ggonzalez94/xbridge/internal/logger"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/out"
	"github.com/ggonzalez94/xbridge/internal/providers"
	"github.com/ggonzalez94/xbridge/internal/routing"
	"github.com/ggonzalez94/xbridge/internal/schema"
	"github.com/ggonzalez94/xbridge/internal/version"
)

type Runner struct {
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time

	// Test seams; production wiring builds these from settings.
	adapters []providers.Adapter
	backends chain.Backends
}

func NewRunner() *Runner {
	return NewRunnerWithWriters(os.Stdout, os.Stderr)
}

func NewRunnerWithWriters(stdout, stderr io.Writer) *Runner {
	return &Runner{
		stdout: stdout,
		stderr: stderr,
		now:    time.Now,
	}
}

type runtimeState struct {
	runner       *Runner
	flags        config.GlobalFlags
	settings     config.Settings
	log          zerolog.Logger
	root         *cobra.Command
	lastCommand  string
	lastStatuses []model.ProviderStatus

	pool       *chain.Pool
	backends   chain.Backends
	routeCache cache.Backend
	aggregator *routing.Aggregator
	store      *execution.Store
	closers    []func() error
}

func (r *Runner) Run(args []string) int {
	state := &runtimeState{runner: r, log: zerolog.Nop()}
	root := state.newRootCommand()
	state.root = root
	root.SetArgs(args)
	root.SetOut(r.stdout)
	root.SetErr(r.stderr)
	root.SilenceUsage = true
	root.SilenceErrors = true

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := normalizeRunError(root.ExecuteContext(ctx))
	state.close()
	if err == nil {
		return 0
	}
	state.renderError(err)
	return clierr.ExitCode(err)
}

func (s *runtimeState) newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   version.CLIName,
		Short: "Cross-chain bridge route aggregation, execution and settlement tracking",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			s.lastCommand = trimRootPath(cmd.CommandPath())
			settings, err := config.Load(s.flags)
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "load configuration", err)
			}
			s.settings = settings
			s.log = logger.NewWithWriter(s.runner.stderr, settings.LogLevel, settings.LogFormat).
				With().Str("command", s.lastCommand).Logger()
			return nil
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return clierr.Wrap(clierr.CodeUsage, "parse flags", err)
	})

	registerGlobalFlags(cmd.PersistentFlags(), &s.flags)

	cmd.AddCommand(s.newRoutesCommand())
	cmd.AddCommand(s.newQuoteCommand())
	cmd.AddCommand(s.newExecuteCommand())
	cmd.AddCommand(s.newStatusCommand())
	cmd.AddCommand(s.newRecordsCommand())
	cmd.AddCommand(s.newProvidersCommand())
	cmd.AddCommand(s.newChainsCommand())
	cmd.AddCommand(s.newServeCommand())
	cmd.AddCommand(s.newSchemaCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func registerGlobalFlags(pf *pflag.FlagSet, f *config.GlobalFlags) {
	pf.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	pf.StringVar(&f.EnvFile, "env-file", "", "Path to a .env file (default ./.env when present)")
	pf.BoolVar(&f.JSON, "json", false, "Output JSON (default)")
	pf.BoolVar(&f.Plain, "plain", false, "Output plain text")
	pf.StringVar(&f.Select, "select", "", "Select fields from data (comma-separated, dotted paths allowed)")
	pf.BoolVar(&f.ResultsOnly, "results-only", false, "Output only data payload")
	pf.StringVar(&f.Timeout, "timeout", "", "Provider request timeout")
	pf.IntVar(&f.Retries, "retries", -1, "Retries per provider request")
	pf.StringVar(&f.LogLevel, "log-level", "", "Log level (trace|debug|info|warn|error|off)")
	pf.StringVar(&f.CacheBackend, "cache-backend", "", "Route cache backend (memory|sqlite|redis)")
	pf.BoolVar(&f.NoCache, "no-cache", false, "Keep the route cache in memory for this run only")
	pf.StringArrayVar(&f.RPC, "rpc", nil, "RPC override as chain=url (repeatable)")
	pf.StringVar(&f.Providers, "providers", "", "Only use these providers (comma-separated)")
}

func (s *runtimeState) newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema [command path]",
		Short: "Describe commands and flags as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := schema.Build(s.root, strings.Join(args, " "))
			if err != nil {
				return clierr.Wrap(clierr.CodeUsage, "build schema", err)
			}
			return s.emitSuccess(doc, nil, nil, cacheMetaBypass())
		},
	}
}

func newVersionCommand() *cobra.Command {
	var long bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			if long {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Long())
				return
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.CLIVersion)
		},
	}
	cmd.Flags().BoolVar(&long, "long", false, "Print extended build metadata")
	return cmd
}

func (s *runtimeState) emitSuccess(data any, warnings []string, providers []model.ProviderStatus, cacheStatus model.CacheStatus) error {
	env := out.Success(s.lastCommand, data, warnings, providers, cacheStatus, s.runner.now())
	return out.Render(s.runner.stdout, env, s.settings)
}

func (s *runtimeState) renderError(err error) {
	command := s.lastCommand
	if command == "" {
		command = version.CLIName
	}
	settings := s.settings
	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	settings.ResultsOnly = false
	settings.SelectFields = nil
	_ = out.Render(s.runner.stderr, out.Failure(command, err, s.lastStatuses, s.runner.now()), settings)
}

func (s *runtimeState) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.log.Debug().Err(err).Msg("close resource")
		}
	}
	s.closers = nil
}

func trimRootPath(path string) string {
	parts := strings.Fields(path)
	if len(parts) <= 1 {
		return ""
	}
	return strings.Join(parts[1:], " ")
}

func cacheMeta(res routing.Result) model.CacheStatus {
	if res.Cached {
		return model.CacheStatus{Status: "hit", AgeMS: res.Age.Milliseconds()}
	}
	return model.CacheStatus{Status: "miss"}
}

func cacheMetaBypass() model.CacheStatus {
	return model.CacheStatus{Status: "bypass"}
}

// normalizeRunError gives cobra's own argument errors a usage code.
func normalizeRunError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := clierr.As(err); ok {
		return err
	}
	if isLikelyUsageError(err) {
		return clierr.Wrap(clierr.CodeUsage, "invalid command usage", err)
	}
	return err
}

func isLikelyUsageError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"unknown command", "unknown flag", "unknown shorthand", "required flag", "accepts ", "requires at least", "invalid argument"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
