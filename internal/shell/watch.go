package shell

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/Mercury0/talon/internal/falcon"
	"github.com/Mercury0/talon/internal/sink"
	kafkasink "github.com/Mercury0/talon/internal/sink/kafka"
	natssink "github.com/Mercury0/talon/internal/sink/nats"
	"github.com/Mercury0/talon/internal/watch"
)

// cmdConnect builds a vendor client from the active profile and
// verifies the credentials with a token exchange.
func (s *Shell) cmdConnect(ctx context.Context) {
	profile, err := s.cfg.Active()
	if err != nil {
		fmt.Fprintln(s.out, `no active profile; create one with "keys create"`)
		return
	}

	client, err := falcon.New(falcon.Config{
		BaseURL:      profile.BaseURL,
		ClientID:     profile.ClientID,
		ClientSecret: profile.ClientSecret,
	}, s.logger)
	if err != nil {
		fmt.Fprintln(s.out, "connect failed:", err)
		return
	}

	if _, err := client.EnsureToken(ctx); err != nil {
		fmt.Fprintln(s.out, "connect failed:", err)
		return
	}

	s.client = client
	s.logger.Info("connected", "baseURL", profile.BaseURL, "profile", profile.ID)
	fmt.Fprintf(s.out, "connected to %s (client id %s)\n",
		profile.BaseURL, maskSecret(profile.ClientID))
}

// cmdRun starts a watch session and blocks until it is interrupted.
// Ctrl-C cancels only the session and drops back to the prompt.
func (s *Shell) cmdRun(ctx context.Context) {
	if s.client == nil {
		s.cmdConnect(ctx)
		if s.client == nil {
			return
		}
	}

	out, err := s.buildSink()
	if err != nil {
		fmt.Fprintln(s.out, "cannot start watch:", err)
		return
	}
	defer func() {
		if err := out.Close(); err != nil {
			s.logger.Warn("failed to close sink", "error", err)
		}
	}()

	poller := watch.NewPoller(
		s.client,
		s.alertStore,
		out,
		&s.cfg.Filter,
		s.sessionStats,
		s.cfg.Watch.PollInterval,
		s.cfg.Watch.Lookback,
		s.logger,
	)

	watchCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	fmt.Fprintf(s.out, "watching for new alerts every %s (Ctrl-C to stop)\n",
		s.cfg.Watch.PollInterval)

	summary, err := poller.Run(watchCtx)
	stop()
	if err != nil {
		fmt.Fprintln(s.out, "watch ended:", err)
	}
	fmt.Fprintf(s.out, "\nwatch stopped: %d new alerts in %s (watermark %s)\n",
		summary.NewAlerts, summary.Duration.Round(time.Second), summary.Since)
}

// buildSink assembles the configured output chain: the chosen format on
// stdout, plus the optional log file and broker forwarders. Optional
// destinations that fail to open are skipped with a warning so a watch
// never dies on its side channels.
func (s *Shell) buildSink() (sink.Sink, error) {
	var sinks []sink.Sink

	switch s.cfg.Watch.Output {
	case "jsonl":
		sinks = append(sinks, sink.NewJSONL(s.out))
	case "csv":
		sinks = append(sinks, sink.NewCSV(s.out))
	default:
		sinks = append(sinks, sink.NewConsole(s.out, true))
	}

	if path := s.cfg.Watch.LogFile; path != "" {
		file, err := sink.NewFile(path)
		if err != nil {
			s.logger.Warn("skipping watch log file", "path", path, "error", err)
			fmt.Fprintln(s.out, "warning: watch log file disabled:", err)
		} else {
			sinks = append(sinks, file)
		}
	}

	if s.cfg.Forward.Kafka.Enabled {
		sinks = append(sinks, kafkasink.NewForwarder(&s.cfg.Forward.Kafka, s.logger))
	}
	if s.cfg.Forward.NATS.Enabled {
		forwarder, err := natssink.NewForwarder(&s.cfg.Forward.NATS, s.logger)
		if err != nil {
			s.logger.Warn("skipping nats forwarder", "error", err)
			fmt.Fprintln(s.out, "warning: nats forwarder disabled:", err)
		} else {
			sinks = append(sinks, forwarder)
		}
	}

	return sink.NewMulti(sinks...), nil
}
