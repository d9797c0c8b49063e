package config

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// apiKeyVar is the variable name spec.md §6 names for the sink API key.
const apiKeyVar = "API_KEY"

// LoadAPIKey reads the sink API key from the process environment first
// (spec.md §6: "API_KEY (read from sink-auth file or process env)"), then
// falls back to scanning path for a line of the form "API_KEY=...". The
// format is intentionally minimal (one required key, no quoting, no
// multiline continuations) so a hand-rolled scanner is used instead of an
// ecosystem .env library (see SPEC_FULL.md §10).
func LoadAPIKey(path string) (string, error) {
	if v := os.Getenv(apiKeyVar); v != "" {
		return v, nil
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("config: %s not set and %s does not exist", apiKeyVar, path)
		}
		return "", fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) != apiKeyVar {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if value != "" {
			return value, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("config: reading %s: %w", path, err)
	}
	return "", fmt.Errorf("config: %s not found in %s", apiKeyVar, path)
}
