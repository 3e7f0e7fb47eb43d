package config

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\$\{([^}]*)\}`)

// maxDepth bounds nested placeholder expansion so self references terminate.
const maxDepth = 16

// Expand replaces ${key} placeholders in s with their values. ${key:default}
// falls back to default; unknown placeholders without a default are kept.
//
//	app.home = /opt/${app.name}
//	cfg.Expand("${app.home}/logs")  // "/opt/dsi/logs"
func (c *Config) Expand(s string) string {
	return c.expand(s, 0)
}

func (c *Config) expand(s string, depth int) string {
	if depth >= maxDepth || !strings.Contains(s, "${") {
		return s
	}
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		key := m[2 : len(m)-1]
		def, hasDef := "", false
		if i := strings.IndexByte(key, ':'); i >= 0 {
			key, def, hasDef = key[:i], key[i+1:], true
		}
		if v, ok := c.Raw(strings.TrimSpace(key)); ok && v != "" {
			return c.expand(v, depth+1)
		}
		if hasDef {
			return c.expand(def, depth+1)
		}
		return m
	})
}
