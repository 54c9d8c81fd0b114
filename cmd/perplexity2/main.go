// Perplexity2 is a web-search agent service.
//
// It answers questions by driving an LLM through a search-and-answer
// loop, keeps per-session conversation history with a rolling summary,
// and streams progress events to clients over SSE. Configuration is
// loaded from a single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	perplexity2 serve            Start the API server
//	perplexity2 ask <question>   Ask a single question (for testing)
//	perplexity2 version          Print version and build information
//	perplexity2 -o json version  Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/alihassan-coder/perplexity2-agent/internal/agent"
	"github.com/alihassan-coder/perplexity2-agent/internal/api"
	"github.com/alihassan-coder/perplexity2-agent/internal/buildinfo"
	"github.com/alihassan-coder/perplexity2-agent/internal/config"
	"github.com/alihassan-coder/perplexity2-agent/internal/events"
	"github.com/alihassan-coder/perplexity2-agent/internal/fetch"
	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
	"github.com/alihassan-coder/perplexity2-agent/internal/search"
	"github.com/alihassan-coder/perplexity2-agent/internal/session"
	"github.com/alihassan-coder/perplexity2-agent/internal/tools"
	"github.com/alihassan-coder/perplexity2-agent/internal/web"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so the
// full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the perplexity2 command. All OS-level
// dependencies are injected as parameters: ctx controls process
// lifetime, stdout and stderr receive all output, and args is
// os.Args[1:]. Arguments are parsed by hand; the flag package's global
// state gets in the way of calling run concurrently from tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: perplexity2 ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	// Print fields in a stable order for human readability.
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Perplexity 2.0 - Web Search Agent Service")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: perplexity2 [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server")
	fmt.Fprintln(w, "  ask          Ask a single question (for testing)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/perplexity2/config.yaml, /etc/perplexity2/config.yaml")
	return nil
}

// buildRegistry wires the tool set from config: web search against the
// configured provider, plus page fetching.
func buildRegistry(cfg *config.Config, logger *slog.Logger) (*tools.Registry, error) {
	mgr := search.NewManager(cfg.Search.Primary)
	if cfg.Search.Tavily.Configured() {
		mgr.Register(search.NewTavily(cfg.Search.Tavily.APIKey, cfg.Search.Tavily.MaxResults))
	}
	if cfg.Search.Brave.Configured() {
		mgr.Register(search.NewBrave(cfg.Search.Brave.APIKey))
	}
	if !mgr.Configured() {
		return nil, fmt.Errorf("no search provider configured (set search.tavily.api_key or search.brave.api_key)")
	}
	logger.Info("search providers registered", "providers", mgr.Providers(), "primary", cfg.Search.Primary)

	registry := tools.NewRegistry()
	registry.Register(&tools.Tool{
		Name:        search.ToolName,
		Description: "Search the web for current information. Returns a list of results with url, title, and content.",
		Parameters:  search.ToolDefinition(),
		Handler:     search.ToolHandler(mgr),
	})
	registry.Register(&tools.Tool{
		Name:        fetch.ToolName,
		Description: "Fetch a web page and return its readable text content.",
		Parameters:  fetch.ToolDefinition(),
		Handler:     fetch.ToolHandler(fetch.New()),
	})
	return registry, nil
}

// runAsk handles the "perplexity2 ask <question>" subcommand. It boots
// a minimal agent (fresh in-memory store, no archive, no server) and
// processes a single question, printing the answer and its sources.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	logger := newLogger(stderr, slog.LevelWarn, "text")

	question := strings.Join(args, " ")

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.Groq.APIKey == "" {
		return fmt.Errorf("groq.api_key is not configured")
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	loop := agent.NewLoop(agent.Config{
		Logger:         logger,
		LLM:            llm.NewGroqClient(cfg.Groq.APIKey, cfg.Groq.BaseURL, logger),
		Model:          cfg.Groq.Model,
		Sessions:       session.NewStore(),
		Registry:       registry,
		RecentWindow:   cfg.Agent.RecentWindow,
		SummaryTrigger: cfg.Agent.SummaryTrigger,
		MaxToolTurns:   cfg.Agent.MaxToolTurns,
	})

	resp, err := loop.Run(ctx, &agent.Request{
		Message:    question,
		SessionKey: uuid.NewString(),
	}, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(stdout, resp.Content)
	if len(resp.Citations) > 0 {
		fmt.Fprintln(stdout)
		for _, c := range resp.Citations {
			fmt.Fprintf(stdout, "  %s (%s)\n", c.Title, c.URL)
		}
	}
	return nil
}

// runServe handles the "perplexity2 serve" subcommand: load config,
// open the archive, wire the model client, tools, and agent loop, then
// serve HTTP until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting perplexity2",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
	)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		logger = newLogger(stdout, level, "text")
	}

	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Groq.Model,
		"search", cfg.Search.Primary,
	)

	if cfg.Groq.APIKey == "" {
		return fmt.Errorf("groq.api_key is not configured")
	}

	// --- Session state ---
	store := session.NewStore()

	var archive *session.Archive
	if cfg.Archive.Enabled {
		archive, err = session.OpenArchive(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("open archive %s: %w", cfg.Archive.Path, err)
		}
		defer archive.Close()
		logger.Info("transcript archive opened", "path", cfg.Archive.Path)
	}

	// --- Model client ---
	groq := llm.NewGroqClient(cfg.Groq.APIKey, cfg.Groq.BaseURL, logger)
	if err := groq.Ping(ctx); err != nil {
		// The provider may be briefly unreachable at boot; requests
		// carry their own error handling.
		logger.Warn("model provider unreachable at startup", "error", err)
	}

	// --- Tools ---
	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	// --- Event bus ---
	bus := events.New()

	// --- Agent loop ---
	loop := agent.NewLoop(agent.Config{
		Logger:         logger,
		LLM:            groq,
		Model:          cfg.Groq.Model,
		Sessions:       store,
		Archive:        archive,
		Registry:       registry,
		Bus:            bus,
		RecentWindow:   cfg.Agent.RecentWindow,
		SummaryTrigger: cfg.Agent.SummaryTrigger,
		MaxToolTurns:   cfg.Agent.MaxToolTurns,
	})

	// --- HTTP server ---
	listen := net.JoinHostPort(cfg.Listen.Address, strconv.Itoa(cfg.Listen.Port))
	server := api.NewServer(listen, loop, bus, web.NewHandler(store, logger), logger)

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		_ = server.Shutdown(context.Background())
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("perplexity2 stopped")
	return nil
}

// newLogger creates a structured logger that writes to w at the given
// level. Format must be "text" or "json"; anything else falls back to
// text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig resolves and loads the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
