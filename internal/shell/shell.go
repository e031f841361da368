// Package shell is the interactive surface of talon: a line-oriented
// REPL over the vendor client, the watch loop and the local alert
// cache. It owns no poller state; every watch session is created fresh
// by the run command and discarded when it returns.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Mercury0/talon/internal/banner"
	"github.com/Mercury0/talon/internal/config"
	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/falcon"
	"github.com/Mercury0/talon/internal/store"
)

// Deps holds everything the shell needs. Input and Output default to
// the process streams when nil, which is the normal interactive case;
// tests script the shell through buffers.
type Deps struct {
	Config     *config.Config
	ConfigPath string
	AlertStore store.AlertStore
	Logger     *slog.Logger
	Input      io.Reader
	Output     io.Writer
}

// Shell is the interactive command loop.
type Shell struct {
	cfg        *config.Config
	configPath string
	alertStore store.AlertStore
	logger     *slog.Logger
	in         *bufio.Scanner
	out        io.Writer

	// client is set by a successful connect and reused by run and
	// detail until the shell exits or the active profile changes.
	client *falcon.Client

	// sessionStats accumulates across watch sessions until reset.
	sessionStats *domain.AlertStats
}

// New creates a shell over the given dependencies.
func New(deps Deps) *Shell {
	if deps.Input == nil {
		deps.Input = os.Stdin
	}
	if deps.Output == nil {
		deps.Output = os.Stdout
	}
	return &Shell{
		cfg:          deps.Config,
		configPath:   deps.ConfigPath,
		alertStore:   deps.AlertStore,
		logger:       deps.Logger,
		in:           bufio.NewScanner(deps.Input),
		out:          deps.Output,
		sessionStats: domain.NewAlertStats(),
	}
}

// Run reads commands until exit, EOF or context cancellation. The
// config is saved on exit so profile and setting changes persist.
func (s *Shell) Run(ctx context.Context) error {
	banner.Fprint(s.out)
	fmt.Fprintln(s.out, `Type "help" for commands.`)

	for ctx.Err() == nil {
		fmt.Fprint(s.out, "talon> ")
		if !s.in.Scan() {
			break
		}
		fields := strings.Fields(s.in.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]

		switch cmd {
		case "help", "?":
			s.printHelp()
		case "version":
			fmt.Fprintln(s.out, "talon", banner.Version)
		case "connect":
			s.cmdConnect(ctx)
		case "run", "watch":
			s.cmdRun(ctx)
		case "recent":
			s.cmdRecent(ctx, args)
		case "detail":
			s.cmdDetail(ctx, args)
		case "stats":
			s.cmdStats(ctx, args)
		case "purge":
			s.cmdPurge(ctx)
		case "export":
			s.cmdExport(ctx, args)
		case "keys":
			s.cmdKeys(args)
		case "config":
			s.cmdConfig(args)
		case "exit", "quit":
			s.saveConfig()
			fmt.Fprintln(s.out, "bye")
			return nil
		default:
			fmt.Fprintf(s.out, "unknown command %q, type \"help\"\n", cmd)
		}
	}

	s.saveConfig()
	return s.in.Err()
}

func (s *Shell) printHelp() {
	fmt.Fprint(s.out, `Commands:
  connect                 verify credentials of the active profile
  run                     watch for new alerts (Ctrl-C returns here)
  recent [n]              list the n most recent cached alerts (default 20)
  detail <display_id>     show one alert in full
  stats [YYYY-MM-DD]      cache statistics, optionally for one UTC day
  export csv|json         write db.csv / db.json to the current directory
  purge                   delete all cached alerts
  keys [create|use|remove|list]
                          manage connection profiles
  config [set ...]        show or change watch settings and filters
  version                 print the version
  exit                    save config and leave
`)
}

// prompt prints a label and reads one trimmed line.
func (s *Shell) prompt(label string) string {
	fmt.Fprintf(s.out, "%s: ", label)
	if !s.in.Scan() {
		return ""
	}
	return strings.TrimSpace(s.in.Text())
}

// confirm asks a yes/no question and defaults to no.
func (s *Shell) confirm(question string) bool {
	answer := s.prompt(question + " [y/N]")
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

// saveConfig writes the config back; failures warn but never abort the
// shell.
func (s *Shell) saveConfig() {
	if s.configPath == "" {
		return
	}
	if err := config.Save(s.cfg, s.configPath); err != nil {
		s.logger.Warn("failed to save config", "path", s.configPath, "error", err)
		fmt.Fprintln(s.out, "warning: could not save config:", err)
	}
}

// maskSecret hides a credential for display: short values mask fully,
// longer ones keep the first and last two characters.
func maskSecret(secret string) string {
	if len(secret) <= 6 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}
