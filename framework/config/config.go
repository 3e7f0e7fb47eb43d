package config

import (
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Well-known keys.
const (
	KeyAppName          = "app.name"
	KeyAppEnv           = "app.env"
	KeyAppDebug         = "app.debug"
	KeyShutdownPort     = "dsi.shutdown-port"
	KeyExtConfDir       = "ext.conf.dir"
	KeyLogLevel         = "log.level"
	KeyLogFile          = "log.file"
	KeyHost             = "dsi.httpd.host"
	KeyPort             = "dsi.httpd.port"
	KeyContextPath      = "dsi.httpd.context-path"
	KeyAPIMapping       = "dsi.httpd.api-mapping"
	KeyStaticDir        = "dsi.httpd.static.dir"
	KeyViewsDir         = "dsi.httpd.views.dir"
	KeyViewsExt         = "dsi.httpd.views.ext"
	KeySessionTimeout   = "dsi.httpd.session.timeout"
	KeyManagedSession   = "dsi.httpd.managed.session.enabled"
	KeyWebsocketEnabled = "dsi.httpd.websocket.enabled"
	KeyCORSOrigins      = "dsi.httpd.cors.origins"
)

// Config is the property store every component reads from.
//
// Values come from, lowest precedence first: the built-in defaults, the
// configuration file, files in ext.conf.dir, explicit Set calls, and the
// process environment (key "a.b-c" is looked up as A_B_C). .env files are
// loaded into the environment first.
type Config struct {
	mu     sync.RWMutex
	file   string
	values map[string]string
	set    map[string]string

	// App is the typed view of the well-known keys, refreshed on Load/Reload.
	App AppConfig
}

// Load reads .env (if present), then the optional config file.
// Call once at bootstrap: cfg, err := config.Load("conf/app.yaml")
func Load(file string, envFiles ...string) (*Config, error) {
	files := envFiles
	if len(files) == 0 {
		files = []string{".env"}
	}
	// Non-fatal: .env may not exist in production
	_ = godotenv.Load(files...)

	c := &Config{file: file, set: make(map[string]string)}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// New creates a Config from in-memory values, without files or .env.
func New(values map[string]string) *Config {
	c := &Config{values: defaults(), set: make(map[string]string)}
	for k, v := range values {
		c.values[k] = v
	}
	c.App = c.appConfig()
	return c
}

// Reload re-reads the configuration file and ext.conf.dir.
func (c *Config) Reload() error {
	values := defaults()
	if c.file != "" {
		fileValues, err := ReadFile(c.file)
		if err != nil {
			return errors.Wrapf(err, "config: load %s", c.file)
		}
		merge(values, fileValues)
	}

	c.mu.Lock()
	c.values = values
	c.mu.Unlock()

	if dir, ok := c.Property(KeyExtConfDir); ok && dir != "" {
		extra, err := ReadDir(dir)
		if err != nil {
			return errors.Wrapf(err, "config: load %s", dir)
		}
		c.mu.Lock()
		merge(c.values, extra)
		c.mu.Unlock()
	}

	app := c.appConfig()
	c.mu.Lock()
	c.App = app
	c.mu.Unlock()
	return nil
}

// File returns the configuration file path, possibly empty.
func (c *Config) File() string { return c.file }

// ── Lookup ────────────────────────────────────────────────────────────────────

// Raw returns the value of key without placeholder expansion.
func (c *Config) Raw(key string) (string, bool) {
	if v, ok := os.LookupEnv(EnvName(key)); ok {
		return v, true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.set[key]; ok {
		return v, true
	}
	v, ok := c.values[key]
	return v, ok
}

// Property returns the value of key with ${...} placeholders expanded.
func (c *Config) Property(key string) (string, bool) {
	v, ok := c.Raw(key)
	if !ok {
		return "", false
	}
	return c.Expand(v), true
}

// Contains reports whether key has a value.
func (c *Config) Contains(key string) bool {
	_, ok := c.Raw(key)
	return ok
}

// Set overrides key in memory.
func (c *Config) Set(key, value string) {
	c.mu.Lock()
	c.set[key] = value
	c.mu.Unlock()
	c.refreshApp()
}

// SetDefault sets key unless it already has a value.
func (c *Config) SetDefault(key, value string) {
	if !c.Contains(key) {
		c.Set(key, value)
	}
}

// Keys returns every known key, sorted.
func (c *Config) Keys() []string {
	c.mu.RLock()
	seen := make(map[string]struct{}, len(c.values)+len(c.set))
	for k := range c.values {
		seen[k] = struct{}{}
	}
	for k := range c.set {
		seen[k] = struct{}{}
	}
	c.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// All returns every key with its expanded value.
func (c *Config) All() map[string]string {
	out := make(map[string]string)
	for _, k := range c.Keys() {
		out[k], _ = c.Property(k)
	}
	return out
}

// ── Typed getters ─────────────────────────────────────────────────────────────

// GetString returns the expanded value of key, or fallback.
func (c *Config) GetString(key string, fallback ...string) string {
	if v, ok := c.Property(key); ok {
		return v
	}
	return first(fallback, "")
}

// GetInt returns key as an int, or fallback when missing or malformed.
func (c *Config) GetInt(key string, fallback int) int {
	v, ok := c.Property(key)
	if !ok {
		return fallback
	}
	i, err := cast.ToIntE(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}

// GetInt64 returns key as an int64, or fallback.
func (c *Config) GetInt64(key string, fallback int64) int64 {
	v, ok := c.Property(key)
	if !ok {
		return fallback
	}
	i, err := cast.ToInt64E(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return i
}

// GetBool returns key as a bool, or fallback.
func (c *Config) GetBool(key string, fallback bool) bool {
	v, ok := c.Property(key)
	if !ok {
		return fallback
	}
	b, err := cast.ToBoolE(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

// GetDuration returns key as a duration ("30m", "1500ms"; bare numbers are
// nanoseconds), or fallback.
func (c *Config) GetDuration(key string, fallback time.Duration) time.Duration {
	v, ok := c.Property(key)
	if !ok {
		return fallback
	}
	d, err := cast.ToDurationE(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return d
}

// GetStrings returns a comma separated value as a slice.
func (c *Config) GetStrings(key string) []string {
	v, ok := c.Property(key)
	if !ok {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ── helpers ───────────────────────────────────────────────────────────────────

// EnvName maps a property key to its environment variable name.
//
//	config.EnvName("dsi.httpd.port")  // "DSI_HTTPD_PORT"
func EnvName(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

func (c *Config) refreshApp() {
	app := c.appConfig()
	c.mu.Lock()
	c.App = app
	c.mu.Unlock()
}

func merge(dst, src map[string]string) {
	for k, v := range src {
		dst[k] = v
	}
}

func first(ss []string, fallback string) string {
	if len(ss) > 0 {
		return ss[0]
	}
	return fallback
}
