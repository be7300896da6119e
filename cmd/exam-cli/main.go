// Command exam-cli takes a test in the terminal and delivers the result to
// an exam server, keeping undelivered submissions in a local outbox.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stemsi/exstem-engine/internal/client"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/engine"
	"github.com/stemsi/exstem-engine/internal/logger"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/outbox"
	"github.com/stemsi/exstem-engine/internal/tui"
	"golang.org/x/term"
)

const (
	defaultMaxStrikes    = 3
	defaultCooldown      = time.Second
	defaultSubmitTimeout = 15 * time.Second
	flushTimeout         = 2 * time.Minute
)

var (
	testPath   string
	testID     string
	endpoint   string
	token      string
	outboxPath string
	policyPath string
	logPath    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "exam-cli",
		Short:        "Take a proctored test in the terminal",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&outboxPath, "outbox", defaultOutboxPath(), "path of the undelivered submissions database")
	rootCmd.PersistentFlags().StringVar(&endpoint, "endpoint", os.Getenv("EXSTEM_ENDPOINT"), "exam server base URL")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("EXSTEM_TOKEN"), "student bearer token")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newOutboxCmd())
	return rootCmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Take a test from a JSON definition",
		Args:  cobra.NoArgs,
		RunE:  runTestCmd,
	}
	cmd.Flags().StringVar(&testPath, "test", "", "test definition file (JSON)")
	cmd.Flags().StringVar(&testID, "id", "", "test ID when the definition has none (default: file name)")
	cmd.Flags().StringVar(&policyPath, "policy", "", "proctoring policy file (TOML)")
	cmd.Flags().StringVar(&logPath, "log", "", "log file (default: discard)")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func runTestCmd(cmd *cobra.Command, _ []string) error {
	test, err := loadTest(testPath, testID)
	if err != nil {
		return err
	}

	proctoring, err := (&config.Config{
		MaxStrikes:        defaultMaxStrikes,
		ViolationCooldown: defaultCooldown,
		SubmitTimeout:     defaultSubmitTimeout,
		PolicyFile:        policyPath,
	}).Proctoring()
	if err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}

	log, closeLog, err := openLog(logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	store, err := outbox.Open(outboxPath)
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer store.Close()

	var (
		submitter engine.Submitter
		local     atomic.Pointer[engine.Submission]
	)
	if endpoint != "" {
		httpSubmitter, err := client.NewHTTPSubmitter(endpoint, token, log)
		if err != nil {
			return err
		}
		submitter = store.Fallback(httpSubmitter)
	} else {
		submitter = engine.SubmitterFunc(func(_ context.Context, sub *engine.Submission) error {
			local.Store(sub)
			return nil
		})
	}

	events := tui.NewEvents()
	actor := engine.NewActor(test, engine.Options{
		Policy: engine.Policy{
			MaxStrikes:       proctoring.MaxStrikes,
			Cooldown:         proctoring.ViolationCooldown,
			BlockClipboard:   proctoring.BlockClipboard,
			BlockContextMenu: proctoring.BlockContextMenu,
			SubmitTimeout:    proctoring.SubmitTimeout,
		},
		Submitter: submitter,
		Observer:  tui.Observer(events),
		Log:       log,
	})

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go actor.Run(ctx)

	program := tea.NewProgram(
		tui.NewModel(actor, events, terminalFullscreen),
		tea.WithAltScreen(),
		tea.WithReportFocus(),
	)
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	cancel()
	<-actor.Done()

	if sub := local.Load(); sub != nil {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(sub.Body))
		return err
	}
	return nil
}

// terminalFullscreen is the terminal's stand-in for a fullscreen request:
// the test needs an interactive terminal on both ends.
func terminalFullscreen() error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("an interactive terminal is required")
	}
	return nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Normalize and check a test definition",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			test, err := loadTest(testPath, testID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s): %d sections, %d questions\n", test.Name, test.ID, len(test.Sections), test.QuestionCount())
			for i, sec := range test.Sections {
				fmt.Fprintf(out, "  %d. %-30s %3d questions  %s\n", i+1, sec.Name, len(sec.Questions), engine.FormatClock(int(sec.Duration.Seconds())))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&testPath, "test", "", "test definition file (JSON)")
	cmd.Flags().StringVar(&testID, "id", "", "test ID when the definition has none (default: file name)")
	_ = cmd.MarkFlagRequired("test")
	return cmd
}

func newOutboxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect or re-send undelivered submissions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List undelivered submissions",
		Args:  cobra.NoArgs,
		RunE:  runOutboxList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Re-send undelivered submissions",
		Args:  cobra.NoArgs,
		RunE:  runOutboxFlush,
	})
	return cmd
}

func runOutboxList(cmd *cobra.Command, _ []string) error {
	store, err := outbox.Open(outboxPath)
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer store.Close()

	entries, err := store.List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintln(out, "Outbox is empty")
		return nil
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s  %-36s  %-9s  %s  tries=%d  %s\n",
			e.Digest[:min(12, len(e.Digest))], e.TestID, e.Reason,
			e.SubmittedAt.Local().Format(time.DateTime), e.Attempts, e.LastError)
	}
	return nil
}

func runOutboxFlush(cmd *cobra.Command, _ []string) error {
	if endpoint == "" {
		return errors.New("--endpoint (or EXSTEM_ENDPOINT) is required to flush")
	}
	store, err := outbox.Open(outboxPath)
	if err != nil {
		return fmt.Errorf("failed to open outbox: %w", err)
	}
	defer store.Close()

	log := logger.New(cmd.ErrOrStderr(), "info", "pretty")
	httpSubmitter, err := client.NewHTTPSubmitter(endpoint, token, log)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), flushTimeout)
	defer cancel()
	res, err := store.Flush(ctx, httpSubmitter)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Delivered %d, still pending %d\n", res.Delivered, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d submissions could not be delivered", res.Failed)
	}
	return nil
}

// loadTest reads and normalizes a JSON definition. An id inside the
// definition wins over id, and id over the file name.
func loadTest(path, id string) (*engine.Test, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read test: %w", err)
	}
	var def model.EngineTest
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode test: %w", err)
	}
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return engine.Normalize(id, &def)
}

func openLog(path string) (zerolog.Logger, func(), error) {
	if path == "" {
		return zerolog.Nop(), func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to open log: %w", err)
	}
	log := logger.New(f, "debug", "json").With().Str("component", "exam_cli").Logger()
	return log, func() { _ = f.Close() }, nil
}

func defaultOutboxPath() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return filepath.Join(".", "exstem-outbox.db")
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dir, "exstem", "outbox.db")
}
