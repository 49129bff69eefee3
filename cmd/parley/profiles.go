// ABOUTME: Named gateway profiles loaded from a TOML file so users can
// ABOUTME: switch between gateways with --profile instead of pasting URLs.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// profilesFile mirrors ~/.config/parley/profiles.toml:
//
//	[profiles.staging]
//	base_url = "https://gateway.staging.example.com"
type profilesFile struct {
	Profiles map[string]profile `toml:"profiles"`
}

type profile struct {
	BaseURL string `toml:"base_url"`
}

// profilesPath returns the profiles file location, honoring PARLEY_PROFILES.
func profilesPath() (string, error) {
	if path := os.Getenv("PARLEY_PROFILES"); path != "" {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "parley", "profiles.toml"), nil
}

// resolveProfile looks up a named profile and returns its gateway base URL.
func resolveProfile(name string) (string, error) {
	path, err := profilesPath()
	if err != nil {
		return "", err
	}

	var pf profilesFile
	if _, err := toml.DecodeFile(path, &pf); err != nil {
		return "", fmt.Errorf("loading profiles from %s: %w", path, err)
	}

	p, ok := pf.Profiles[name]
	if !ok {
		return "", fmt.Errorf("profile %q not found in %s", name, path)
	}
	if p.BaseURL == "" {
		return "", fmt.Errorf("profile %q has no base_url", name)
	}
	return p.BaseURL, nil
}
