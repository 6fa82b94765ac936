package config

import (
	"os"
	"regexp"
)

// envVarPattern matches ${VAR}, ${VAR:-default} and $VAR
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)(?::-([^}]*))?\}|\$([A-Za-z0-9_]+)`)

// ExpandEnv replaces ${VAR}, ${VAR:-default} and $VAR with environment
// variables. An unset or empty variable expands to its default, if any.
// Example: "${CORPUS_DIR:-./corpus}" → "./corpus"
func ExpandEnv(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		name, fallback := groups[1], groups[2]
		if name == "" {
			name = groups[3]
		}

		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// ExpandEnvMap expands all values in a map
func ExpandEnvMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}

	expanded := make(map[string]string, len(m))
	for key, value := range m {
		expanded[key] = ExpandEnv(value)
	}
	return expanded
}
