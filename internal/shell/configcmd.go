package shell

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// cmdConfig shows or changes the effective settings. Changes are saved
// immediately.
func (s *Shell) cmdConfig(args []string) {
	if len(args) == 0 {
		s.showConfig()
		return
	}
	if args[0] != "set" || len(args) < 3 {
		fmt.Fprintln(s.out, "usage: config [set <key> <value>]")
		return
	}
	s.setConfig(args[1], strings.Join(args[2:], " "))
}

func (s *Shell) showConfig() {
	fmt.Fprintf(s.out, "watch:\n")
	fmt.Fprintf(s.out, "  interval  %s\n", s.cfg.Watch.PollInterval)
	fmt.Fprintf(s.out, "  lookback  %s\n", s.cfg.Watch.Lookback)
	fmt.Fprintf(s.out, "  output    %s\n", s.cfg.Watch.Output)
	if s.cfg.Watch.LogFile != "" {
		fmt.Fprintf(s.out, "  log file  %s\n", s.cfg.Watch.LogFile)
	}

	fmt.Fprintf(s.out, "filter:\n")
	if s.cfg.Filter.SeverityMin != nil {
		fmt.Fprintf(s.out, "  severity  >= %d\n", *s.cfg.Filter.SeverityMin)
	}
	if s.cfg.Filter.Product != "" {
		fmt.Fprintf(s.out, "  product   contains %q\n", s.cfg.Filter.Product)
	}
	if s.cfg.Filter.Hostname != "" {
		fmt.Fprintf(s.out, "  hostname  contains %q\n", s.cfg.Filter.Hostname)
	}
	if s.cfg.Filter.Status != "" {
		fmt.Fprintf(s.out, "  status    %s (recorded, not applied)\n", s.cfg.Filter.Status)
	}
	if len(s.cfg.Filter.Keywords) != 0 {
		fmt.Fprintf(s.out, "  keywords  %s\n", strings.Join(s.cfg.Filter.Keywords, ", "))
	}

	fmt.Fprintf(s.out, "cache:\n")
	fmt.Fprintf(s.out, "  backend   %s\n", s.cfg.Cache.Backend)
	if s.cfg.Cache.Backend == "sqlite" {
		fmt.Fprintf(s.out, "  path      %s\n", s.cfg.Cache.Path)
	}

	fmt.Fprintf(s.out, "server:\n")
	state := "off"
	if s.cfg.Server.Enabled {
		state = "on (" + s.cfg.Server.Address() + ")"
	}
	fmt.Fprintf(s.out, "  api       %s\n", state)
}

func (s *Shell) setConfig(key, value string) {
	switch key {
	case "interval":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			fmt.Fprintln(s.out, "interval must be a positive duration, e.g. 30s")
			return
		}
		s.cfg.Watch.PollInterval = d
	case "lookback":
		d, err := time.ParseDuration(value)
		if err != nil || d <= 0 {
			fmt.Fprintln(s.out, "lookback must be a positive duration, e.g. 60m")
			return
		}
		s.cfg.Watch.Lookback = d
	case "output":
		switch value {
		case "console", "jsonl", "csv":
			s.cfg.Watch.Output = value
		default:
			fmt.Fprintln(s.out, "output must be console, jsonl or csv")
			return
		}
	case "logfile":
		s.cfg.Watch.LogFile = value
	case "severity":
		if value == "off" {
			s.cfg.Filter.SeverityMin = nil
			break
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			fmt.Fprintln(s.out, `severity must be a number or "off"`)
			return
		}
		s.cfg.Filter.SeverityMin = &n
	case "product":
		s.cfg.Filter.Product = offToEmpty(value)
	case "hostname":
		s.cfg.Filter.Hostname = offToEmpty(value)
	case "status":
		s.cfg.Filter.Status = offToEmpty(value)
	case "keywords":
		if value == "off" {
			s.cfg.Filter.Keywords = nil
			break
		}
		parts := strings.Split(value, ",")
		keywords := parts[:0]
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				keywords = append(keywords, trimmed)
			}
		}
		s.cfg.Filter.Keywords = keywords
	default:
		fmt.Fprintln(s.out, "settable keys: interval, lookback, output, logfile,",
			"severity, product, hostname, status, keywords")
		return
	}

	s.saveConfig()
	fmt.Fprintf(s.out, "%s updated\n", key)
}

// offToEmpty maps the literal "off" to the unset value so every filter
// field can be cleared the same way.
func offToEmpty(value string) string {
	if value == "off" {
		return ""
	}
	return value
}
