package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/authprobe/internal/logger"
	"github.com/PentesterFlow/authprobe/internal/output"
	"github.com/PentesterFlow/authprobe/internal/progress"
	"github.com/PentesterFlow/authprobe/internal/shutdown"
	"github.com/PentesterFlow/authprobe/internal/state"
	"github.com/PentesterFlow/authprobe/pkg/probe"
)

var (
	version = "1.0.0"

	// Global flags
	configFile string
	envFile    string
	verbose    bool
	debug      bool
	logJSON    bool

	// Target flags
	baseURL  string
	tenantID string
	apiKey   string

	// Request flags
	timeout      int
	concurrency  int
	rateLimit    float64
	userAgent    string
	insecure     bool
	validatePath string
	headers      []string
	saveConfig   string

	// Output flags
	format      string
	pretty      bool
	stream      bool
	outputFile  string
	showTokens  bool
	noProgress  bool
	historyPath string
	noHistory   bool

	// History flags
	historyLimit int
	showRun      string
	compareRuns  []string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag defaults are reset on every call.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "authprobe",
		Short: "authprobe - API key authentication discovery",
		Long: `authprobe - Find the authentication endpoint and request body a
multi-tenant checkout API accepts for API-key authentication.

Every known endpoint is tried with every known payload shape and the
combinations that return a token are reported.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Probe command
	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Try every endpoint and payload combination",
		Long:  "POST every payload shape to every candidate endpoint and report which combinations return a token.",
		Args:  cobra.NoArgs,
		RunE:  runProbe,
	}

	// Validate command
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check an API key against the validation endpoint",
		Args:  cobra.NoArgs,
		RunE:  runValidate,
	}

	// Candidates command
	candidatesCmd := &cobra.Command{
		Use:   "candidates",
		Short: "List the endpoint and payload combinations in probe order",
		Args:  cobra.NoArgs,
		RunE:  runCandidates,
	}

	// History command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List, show or compare stored probe runs",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file loaded before the process environment")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Debug mode")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write logs as JSON lines")
	rootCmd.PersistentFlags().StringVar(&historyPath, "history", "", "Run history file (.db for bbolt, .json or .json.gz)")

	// Target flags
	for _, cmd := range []*cobra.Command{probeCmd, validateCmd} {
		cmd.Flags().StringVarP(&baseURL, "base-url", "u", "", "Base URL of the API (default: $"+probe.EnvBaseURL+")")
		cmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant identifier (default: $"+probe.EnvTenantID+")")
		cmd.Flags().StringVarP(&apiKey, "api-key", "k", "", "API key (default: $"+probe.EnvAPIKey+")")
		cmd.Flags().IntVar(&timeout, "timeout", 10, "Request timeout in seconds")
		cmd.Flags().StringVar(&userAgent, "user-agent", "", "User-Agent header")
		cmd.Flags().BoolVar(&insecure, "insecure", false, "Skip TLS certificate verification")
		cmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")
		cmd.Flags().BoolVar(&pretty, "pretty", true, "Indent JSON output")
		cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "Extra request header \"Name: value\" (repeatable)")
		cmd.Flags().StringVar(&saveConfig, "save-config", "", "Write the effective configuration (without the API key) to a file")
	}

	// Probe flags
	probeCmd.Flags().IntVarP(&concurrency, "concurrency", "n", 1, "Attempts in flight (1 is sequential)")
	probeCmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", 0, "Requests per second (0 disables pacing)")
	probeCmd.Flags().BoolVar(&stream, "stream", false, "Write each attempt as it finishes")
	probeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	probeCmd.Flags().BoolVar(&showTokens, "show-tokens", false, "Print tokens unmasked")
	probeCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
	probeCmd.Flags().BoolVar(&noHistory, "no-history", false, "Do not record this run")

	// Validate flags
	validateCmd.Flags().StringVar(&validatePath, "path", "", "Validation endpoint path relative to the base URL")

	// History flags
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Number of runs to list")
	historyCmd.Flags().StringVar(&showRun, "show", "", "Print the stored report of a run")
	historyCmd.Flags().StringSliceVar(&compareRuns, "compare", nil, "Compare two runs: --compare OLD,NEW")
	historyCmd.Flags().StringVar(&format, "format", "text", "Output format (text, json)")

	// Add commands
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(candidatesCmd)
	rootCmd.AddCommand(historyCmd)

	return rootCmd
}

// setupLogger installs the global logger for the verbosity flags.
func setupLogger(cfg *probe.Config, w io.Writer) *logger.Logger {
	level := logger.WarnLevel
	if cfg.Verbose {
		level = logger.InfoLevel
	}
	if cfg.Debug {
		level = logger.DebugLevel
	}

	l := logger.New(logger.Config{
		Level:  level,
		Pretty: !logJSON,
		Output: w,
	})
	logger.SetGlobal(l)
	return l
}

// loadConfig builds the run configuration: defaults, then the env file and
// process environment, then the config file, then explicit flags.
func loadConfig(cmd *cobra.Command) (*probe.Config, error) {
	config := probe.DefaultConfig()

	if err := config.LoadEnv(envFile); err != nil {
		return nil, err
	}

	if configFile != "" {
		fileConfig, err := probe.LoadFromFile(configFile, config)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = fileConfig
	}

	flags := cmd.Flags()
	if flags.Changed("base-url") {
		config.BaseURL = baseURL
	}
	if flags.Changed("tenant") {
		config.TenantID = tenantID
	}
	if flags.Changed("api-key") {
		config.APIKey = apiKey
	}
	if flags.Changed("timeout") {
		config.Timeout = time.Duration(timeout) * time.Second
	}
	if flags.Changed("concurrency") {
		config.Concurrency = concurrency
	}
	if flags.Changed("rate-limit") {
		config.RateLimit = rateLimit
	}
	if flags.Changed("user-agent") {
		config.UserAgent = userAgent
	}
	if flags.Changed("insecure") {
		config.SkipTLSVerify = insecure
	}
	if flags.Changed("path") {
		config.ValidatePath = validatePath
	}
	if flags.Changed("format") {
		config.Output.Format = format
	}
	if flags.Changed("pretty") {
		config.Output.Pretty = pretty
	}
	if flags.Changed("stream") {
		config.Output.StreamMode = stream
	}
	if flags.Changed("output") {
		config.Output.FilePath = outputFile
	}
	if flags.Changed("show-tokens") {
		config.Output.ShowTokens = showTokens
	}
	if flags.Changed("history") {
		config.HistoryPath = historyPath
	}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid header %q, want \"Name: value\"", h)
		}
		if config.Headers == nil {
			config.Headers = make(map[string]string)
		}
		config.Headers[name] = strings.TrimSpace(value)
	}
	if verbose {
		config.Verbose = true
	}
	if debug {
		config.Debug = true
	}

	return config, nil
}

// saveEffectiveConfig writes the loaded configuration when --save-config is set.
func saveEffectiveConfig(config *probe.Config) error {
	if saveConfig == "" {
		return nil
	}
	if err := config.SaveToFile(saveConfig); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

// openOutput returns the report destination. Stdout is wrapped so closing the
// report writer leaves it open.
func openOutput(path string, stdout io.Writer) (io.Writer, error) {
	if path == "" {
		return struct{ io.Writer }{stdout}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

func runProbe(cmd *cobra.Command, args []string) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := setupLogger(config, stderr)

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := saveEffectiveConfig(config); err != nil {
		return err
	}

	dest, err := openOutput(config.Output.FilePath, stdout)
	if err != nil {
		return err
	}
	writer := output.NewWriter(dest, output.Config{
		Format:     config.Output.Format,
		Pretty:     config.Output.Pretty,
		Stream:     config.Output.StreamMode,
		FilePath:   config.Output.FilePath,
		ShowTokens: config.Output.ShowTokens,
	})

	// The bar shares the terminal with streamed text and log lines.
	enableProgress := !noProgress && !config.Verbose && !config.Debug &&
		!(config.Output.StreamMode && config.Output.FilePath == "")

	display := progress.NewWithWriter(stderr)
	attempts := output.NewProgressWriter(writer, func(a *output.Attempt) {
		if enableProgress {
			display.Attempt(a.Success, a.StatusCode == 0)
		}
	})

	handler := shutdown.New(context.Background(), shutdown.Config{
		Logger: log.WithComponent("shutdown"),
	})
	handler.RegisterCloser("output", writer)

	var history *state.History
	if config.HistoryPath != "" && !noHistory {
		store, err := state.OpenStore(config.HistoryPath)
		if err != nil {
			handler.Shutdown()
			return fmt.Errorf("failed to open history: %w", err)
		}
		history = state.NewHistory(store, log.WithComponent("history"))
		handler.RegisterCloser("history", history)
	}
	defer func() {
		for _, err := range handler.Shutdown() {
			fmt.Fprintf(stderr, "Cleanup failed: %v\n", err)
		}
	}()

	p, err := probe.New(
		probe.WithConfig(config),
		probe.WithLogger(log.WithComponent("probe")),
		probe.WithAttemptHook(func(r probe.Result) {
			a := output.FromResult(r, config.Output.ShowTokens)
			if err := attempts.WriteAttempt(&a); err != nil {
				log.ErrorEvent(err, r.URL, "write attempt")
			}
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to create prober: %w", err)
	}
	defer p.Close()

	if enableProgress {
		display.Start(config.BaseURL, len(probe.Endpoints)*len(probe.PayloadShapes))
	}
	report, err := p.Run(handler.Context())
	display.Stop()
	if err != nil {
		return fmt.Errorf("probe failed: %w", err)
	}

	if handler.Interrupted() {
		fmt.Fprintln(stderr, "Interrupted: remaining attempts were recorded as transport errors")
	}

	runReport := output.FromReport(report, config.Output.ShowTokens)
	runReport.Timing = output.TimingFromSnapshot(p.Metrics().Snapshot())
	if stats := p.LimiterStats(); stats.Enabled {
		runReport.Timing.RateLimit = &stats
	}

	if err := writer.WriteReport(runReport); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush report: %w", err)
	}

	if history != nil {
		recordRun(stderr, history, report, log)
	}

	return nil
}

// recordRun stores the run and prints what changed since the previous run
// against the same target. History failures are logged, never fatal.
func recordRun(w io.Writer, history *state.History, report *probe.Report, log *logger.Logger) {
	rec, err := history.Record(report)
	if err != nil {
		log.ErrorEvent(err, report.BaseURL, "record run")
		return
	}

	prev, err := history.Previous(report.BaseURL, report.TenantID, rec.ID)
	switch {
	case err != nil:
		log.ErrorEvent(err, report.BaseURL, "load previous run")
	case prev != nil:
		printChanges(w, prev.ID, rec.ID, state.Compare(prev.Report, rec.Report))
	}
	log.Infof("Run recorded as %s", rec.ID)
}

func runValidate(cmd *cobra.Command, args []string) error {
	stdout := cmd.OutOrStdout()

	config, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := setupLogger(config, cmd.ErrOrStderr())

	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := saveEffectiveConfig(config); err != nil {
		return err
	}

	handler := shutdown.New(context.Background(), shutdown.Config{
		Logger: log.WithComponent("shutdown"),
	})
	defer handler.Shutdown()

	p, err := probe.New(
		probe.WithConfig(config),
		probe.WithLogger(log.WithComponent("probe")),
	)
	if err != nil {
		return fmt.Errorf("failed to create prober: %w", err)
	}
	defer p.Close()

	result, err := p.Validator().Validate(handler.Context(), config.BaseURL, config.TenantID, config.APIKey)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	if config.Output.Format == "json" {
		return printValidationJSON(stdout, result, config.Output.Pretty)
	}
	fmt.Fprintln(stdout, result.String())
	return nil
}

func runCandidates(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, c := range probe.Combinations() {
		fmt.Fprintf(out, "[%2d] POST %-24s #%d %s\n", c.Index+1, c.Endpoint, c.PayloadIndex, c.Shape.Name)
		for _, f := range c.Shape.Fields {
			switch f.Source {
			case probe.FromAPIKey:
				fmt.Fprintf(out, "       %s = <api key>\n", f.Name)
			case probe.FromTenant:
				fmt.Fprintf(out, "       %s = <tenant id>\n", f.Name)
			default:
				fmt.Fprintf(out, "       %s = %q\n", f.Name, f.Value)
			}
		}
	}
	return nil
}
