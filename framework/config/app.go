package config

import (
	"strconv"
	"time"
)

// AppConfig is the typed view of the application and embedded server keys.
type AppConfig struct {
	Name  string
	Env   string // local | production | testing
	Debug bool

	LogLevel string
	LogFile  string

	ShutdownPort int

	Host        string
	Port        int
	ContextPath string
	APIMapping  string
	StaticDir   string
	ViewsDir    string
	ViewsExt    string

	SessionTimeout        time.Duration
	ManagedSessionEnabled bool
	WebsocketEnabled      bool
	CORSOrigins           []string
}

// Addr returns host:port.
func (a AppConfig) Addr() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}

func defaults() map[string]string {
	return map[string]string{
		KeyAppName:          "dsi",
		KeyAppEnv:           "local",
		KeyAppDebug:         "false",
		KeyLogLevel:         "info",
		KeyShutdownPort:     "-1",
		KeyHost:             "127.0.0.1",
		KeyPort:             "9090",
		KeyContextPath:      "/",
		KeyAPIMapping:       "/apis",
		KeyViewsDir:         "./views",
		KeyViewsExt:         ".html",
		KeySessionTimeout:   "30m",
		KeyManagedSession:   "true",
		KeyWebsocketEnabled: "true",
	}
}

func (c *Config) appConfig() AppConfig {
	return AppConfig{
		Name:                  c.GetString(KeyAppName),
		Env:                   c.GetString(KeyAppEnv),
		Debug:                 c.GetBool(KeyAppDebug, false),
		LogLevel:              c.GetString(KeyLogLevel),
		LogFile:               c.GetString(KeyLogFile),
		ShutdownPort:          c.GetInt(KeyShutdownPort, -1),
		Host:                  c.GetString(KeyHost),
		Port:                  c.GetInt(KeyPort, 9090),
		ContextPath:           c.GetString(KeyContextPath, "/"),
		APIMapping:            c.GetString(KeyAPIMapping, "/apis"),
		StaticDir:             c.GetString(KeyStaticDir),
		ViewsDir:              c.GetString(KeyViewsDir),
		ViewsExt:              c.GetString(KeyViewsExt),
		SessionTimeout:        c.GetDuration(KeySessionTimeout, 30*time.Minute),
		ManagedSessionEnabled: c.GetBool(KeyManagedSession, true),
		WebsocketEnabled:      c.GetBool(KeyWebsocketEnabled, true),
		CORSOrigins:           c.GetStrings(KeyCORSOrigins),
	}
}

// Environment returns app.env.
func (c *Config) Environment() string { return c.App.Env }
func (c *Config) IsLocal() bool       { return c.Environment() == "local" }
func (c *Config) IsProduction() bool  { return c.Environment() == "production" }
func (c *Config) IsTesting() bool     { return c.Environment() == "testing" }
