// Package app is a demo application: a user directory API, a token
// filter, a back office and a websocket chat room.
package app

import (
	dsi "github.com/km-arc/go-dsi/framework/app"
	"github.com/km-arc/go-dsi/framework/httpd"
	"github.com/km-arc/go-dsi/framework/scan"

	_ "github.com/km-arc/go-dsi/app/admin"
	_ "github.com/km-arc/go-dsi/app/auth"
	_ "github.com/km-arc/go-dsi/app/chat"
	_ "github.com/km-arc/go-dsi/app/users"
)

const base = "github.com/km-arc/go-dsi/app"

// Options describes the demo application.
func Options() dsi.Options {
	return dsi.Options{
		Name:         "dsi-demo",
		ScanPackages: []string{base + "/users", base + "/auth", base + "/admin"},
		ConfigFile:   "conf/app.yaml",
		Extras: []scan.ExtraScan{
			{Name: httpd.WebsocketScanner, Packages: []string{base + "/chat"}},
		},
	}
}
