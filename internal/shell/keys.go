package shell

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mercury0/talon/internal/config"
)

// cmdKeys manages connection profiles: list, create, use, remove.
func (s *Shell) cmdKeys(args []string) {
	if len(args) == 0 {
		s.listProfiles()
		return
	}

	switch args[0] {
	case "list":
		s.listProfiles()
	case "create":
		s.createProfile()
	case "use":
		if len(args) != 2 {
			fmt.Fprintln(s.out, "usage: keys use <id>")
			return
		}
		s.useProfile(args[1])
	case "remove":
		if len(args) != 2 {
			fmt.Fprintln(s.out, "usage: keys remove <id>")
			return
		}
		s.removeProfile(args[1])
	default:
		fmt.Fprintln(s.out, "usage: keys [list|create|use <id>|remove <id>]")
	}
}

func (s *Shell) listProfiles() {
	if len(s.cfg.Profiles) == 0 {
		fmt.Fprintln(s.out, `no profiles; add one with "keys create"`)
		return
	}
	for _, p := range s.cfg.Profiles {
		active := " "
		if p.ID == s.cfg.ActiveProfile {
			active = "*"
		}
		fmt.Fprintf(s.out, "%s %-10s %-14s %-30s %s\n",
			active, shortID(p.ID), maskSecret(p.ClientID), p.BaseURL, p.CreatedAt)
	}
}

func (s *Shell) createProfile() {
	clientID := s.prompt("Client ID")
	clientSecret := s.prompt("Client Secret")
	baseURL := s.prompt("Base URL")
	if clientID == "" || clientSecret == "" || baseURL == "" {
		fmt.Fprintln(s.out, "all three fields are required, profile not created")
		return
	}

	profile := config.Profile{
		ID:           uuid.NewString(),
		ClientID:     clientID,
		ClientSecret: clientSecret,
		BaseURL:      baseURL,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	s.cfg.AddProfile(profile)
	s.saveConfig()

	s.logger.Info("profile created", "profile", profile.ID, "baseURL", baseURL)
	fmt.Fprintf(s.out, "created profile %s", shortID(profile.ID))
	if s.cfg.ActiveProfile == profile.ID {
		fmt.Fprint(s.out, " (now active)")
	}
	fmt.Fprintln(s.out)
}

func (s *Shell) useProfile(id string) {
	profile, ok := s.cfg.FindProfile(id)
	if !ok {
		fmt.Fprintf(s.out, "no profile matches %q\n", id)
		return
	}
	s.cfg.ActiveProfile = profile.ID
	// A different credential invalidates the connected client.
	s.client = nil
	s.saveConfig()
	fmt.Fprintf(s.out, "active profile is now %s (%s)\n",
		shortID(profile.ID), profile.BaseURL)
}

func (s *Shell) removeProfile(id string) {
	profile, ok := s.cfg.FindProfile(id)
	if !ok {
		fmt.Fprintf(s.out, "no profile matches %q\n", id)
		return
	}
	wasActive := profile.ID == s.cfg.ActiveProfile
	s.cfg.RemoveProfile(profile.ID)
	if wasActive {
		s.client = nil
	}
	s.saveConfig()
	fmt.Fprintf(s.out, "removed profile %s\n", shortID(profile.ID))
}

// shortID renders the leading segment of a profile UUID, enough to be
// unambiguous at the prompt.
func shortID(id string) string {
	if len(id) <= 10 {
		return id
	}
	return id[:10]
}
