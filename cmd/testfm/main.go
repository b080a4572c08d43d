// Command testfm runs foreman-maintain health commands on Satellite and
// Capsule hosts and reports each host's outcome.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/deixis/testfm"
	"github.com/deixis/testfm/internal/config"
	"github.com/deixis/testfm/internal/foreman"
	fmmcp "github.com/deixis/testfm/internal/mcp"
	"github.com/deixis/testfm/internal/product"
	"github.com/deixis/testfm/internal/report"
	"github.com/deixis/testfm/internal/session"
	"github.com/deixis/testfm/internal/workflow"
	"github.com/fatih/color"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"
)

// errFailed signals that the command ran but at least one host failed.
var errFailed = errors.New("one or more hosts failed")

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "list":
		err = listMain(args)
	case "list-tags":
		err = listTagsMain(args)
	case "check":
		err = checkMain(args)
	case "product":
		err = productMain(args)
	case "mcp":
		err = mcpMain(args)
	case "version":
		fmt.Println(testfm.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "testfm: unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}

	if errors.Is(err, errFailed) {
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "testfm: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: testfm <command> [flags]

Commands:
  list        Run "health list" on the target hosts
  list-tags   Run "health list-tags" on the target hosts
  check       Run "health check" on the target hosts
  product     Print the Satellite or Capsule release of an inventory group
  mcp         Start the MCP server
  version     Print the version
  help        Show this help

Use "testfm <command> -h" for command-specific flags.`)
}

// commonFlags are shared by every command that talks to hosts.
type commonFlags struct {
	pattern  *string
	jsonOut  *bool
	verbose  *bool
	logLevel *string
	timeout  *time.Duration
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		pattern:  fs.String("pattern", "", "inventory host pattern (default from config: satellite)"),
		jsonOut:  fs.Bool("json", false, "output results as JSON"),
		verbose:  fs.Bool("v", false, "print each host's output"),
		logLevel: fs.String("log-level", "", "log level (debug, info, warn, error)"),
		timeout:  fs.Duration("timeout", 0, "override configured timeout (e.g. 5m)"),
	}
}

func (c commonFlags) open() (*session.Session, error) {
	cfg, root, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if *c.logLevel != "" {
		cfg.LogLevel = *c.logLevel
	}
	if *c.timeout > 0 {
		cfg.RawTimeout = c.timeout.String()
	}
	return session.New(cfg, root, session.NewLogger(os.Stderr, cfg.Level()))
}

func loadConfig() (*config.Config, string, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("determining workspace: %w", err)
	}
	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return loaded.Config, loaded.RepoRoot, nil
}

// --- list ---

func listMain(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	common := addCommon(fs)
	tags := fs.String("tags", "", "only list checks carrying this tag")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := common.open()
	if err != nil {
		return err
	}
	rr, err := s.Engine.List(ctx, *common.pattern, &foreman.Options{Tags: *tags})
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	return emit(os.Stdout, rr, *common.jsonOut, true)
}

// --- list-tags ---

func listTagsMain(args []string) error {
	fs := flag.NewFlagSet("list-tags", flag.ExitOnError)
	common := addCommon(fs)
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := common.open()
	if err != nil {
		return err
	}
	rr, err := s.Engine.ListTags(ctx, *common.pattern)
	if err != nil {
		return fmt.Errorf("list-tags: %w", err)
	}
	if *common.jsonOut {
		return emit(os.Stdout, rr, true, false)
	}
	fmt.Print(formatRunCLI(rr, *common.verbose))
	for _, tag := range workflow.Tags(rr) {
		fmt.Printf("  %s\n", tag)
	}
	if rr.Failed() {
		return errFailed
	}
	return nil
}

// --- check ---

func checkMain(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	common := addCommon(fs)
	tags := fs.String("tags", "", "run only checks carrying this tag")
	label := fs.String("label", "", "run a single check by label (wins over -tags)")
	whitelist := fs.String("whitelist", "", "comma-separated check labels to skip")
	assumeYes := fs.Bool("y", false, "pass --assumeyes so checks may apply fixes")
	eachTag := fs.Bool("each-tag", false, "check every listed tag in turn with the whitelist")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := common.open()
	if err != nil {
		return err
	}

	if *eachTag {
		res, err := s.Engine.CheckEachTag(ctx, *common.pattern, *whitelist)
		if err != nil {
			return fmt.Errorf("check: %w", err)
		}
		if *common.jsonOut {
			if err := writeJSON(os.Stdout, res.Runs); err != nil {
				return err
			}
		} else {
			fmt.Print(formatSweepCLI(res))
		}
		if !res.Passed() {
			return errFailed
		}
		return nil
	}

	rr, err := s.Engine.Check(ctx, *common.pattern, &foreman.Options{
		Tags:      *tags,
		Label:     *label,
		Whitelist: *whitelist,
		AssumeYes: *assumeYes,
	})
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	return emit(os.Stdout, rr, *common.jsonOut, *common.verbose)
}

// --- product ---

func productMain(args []string) error {
	fs := flag.NewFlagSet("product", flag.ExitOnError)
	common := addCommon(fs)
	roleFlag := fs.String("role", string(product.Satellite), "satellite or capsule")
	_ = fs.Parse(args)

	role, err := product.ParseRole(*roleFlag)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s, err := common.open()
	if err != nil {
		return err
	}
	label, err := s.Prober.Probe(ctx, role)
	if err != nil {
		return err
	}
	if *common.jsonOut {
		return writeJSON(os.Stdout, label)
	}
	fmt.Println(label)
	return nil
}

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(fmmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	return serve(ctx, *httpAddr)
}

func serve(ctx context.Context, httpAddr string) error {
	cfg, root, err := loadConfig()
	if err != nil {
		return err
	}
	// stdout carries the stdio transport; the console logger writes to stderr.
	s, err := session.New(cfg, root, session.NewLogger(os.Stderr, cfg.Level()))
	if err != nil {
		return err
	}

	var back report.Store = report.NewDiskStore()
	if s.Engine.Store != nil {
		back = s.Engine.Store
	}
	store := report.NewLRUStore(20, back)
	server := fmmcp.NewServer(s.Engine, s.Prober, store)

	if httpAddr != "" {
		return serveHTTP(ctx, server, httpAddr, s.Log)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func serveHTTP(ctx context.Context, server *mcpsdk.Server, addr string, log zerolog.Logger) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- output ---

var (
	okColor   = color.New(color.FgGreen).SprintFunc()
	failColor = color.New(color.FgRed, color.Bold).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
)

// emit prints rr as JSON or text and returns errFailed when a host failed.
func emit(w io.Writer, rr *report.RunResult, jsonOut, verbose bool) error {
	if jsonOut {
		if err := writeJSON(w, rr); err != nil {
			return err
		}
	} else {
		fmt.Fprint(w, formatRunCLI(rr, verbose))
	}
	if rr.Failed() {
		return errFailed
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatRunCLI(rr *report.RunResult, verbose bool) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if rr.Failed() {
		w("%s  %s\n\n", failColor("FAIL"), rr.Command)
	} else {
		w("%s  %s\n\n", okColor("ok"), rr.Command)
	}

	for _, h := range rr.Hosts {
		status := okColor("ok")
		switch {
		case h.Unreachable:
			status = failColor("UNREACHABLE")
		case h.Failed():
			status = failColor("FAIL")
		}
		w("  %-30s %s (exit %d)\n", h.Host, status, h.ExitCode)
		for _, f := range h.Failures {
			w("      %s\n", failColor(f))
		}
		for _, warning := range h.Warnings {
			w("      %s\n", warnColor(warning))
		}
		if verbose && h.Stdout != "" {
			for _, line := range strings.Split(strings.TrimRight(h.Stdout, "\n"), "\n") {
				w("    | %s\n", line)
			}
		}
		if h.Failed() && h.Stderr != "" {
			w("    %s\n", workflow.FirstLine(h.Stderr))
		}
	}
	w("\n")
	return string(b)
}

func formatSweepCLI(res *workflow.SweepResult) string {
	var b []byte
	w := func(format string, args ...any) {
		b = fmt.Appendf(b, format, args...)
	}

	if res.Passed() {
		w("%s\n\n", okColor("ok"))
	} else {
		w("%s\n\n", failColor("FAIL"))
	}
	for _, s := range res.Steps {
		switch s.Status {
		case workflow.StepPass:
			w("  %-20s %s\n", s.Tag, okColor("ok"))
		case workflow.StepFail:
			w("  %-20s %s\n", s.Tag, failColor("FAIL"))
		case workflow.StepSkipped:
			w("  %-20s -\n", s.Tag)
		}
	}
	w("\n")
	if !res.Passed() {
		w("%s\n", res.Steps[res.FailedIdx].Output)
	}
	return string(b)
}
