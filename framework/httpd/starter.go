package httpd

import (
	"github.com/km-arc/go-dsi/framework/container"
	gohttp "github.com/km-arc/go-dsi/framework/http"
	"github.com/km-arc/go-dsi/framework/metrics"
	"github.com/km-arc/go-dsi/framework/providers"
	"github.com/km-arc/go-dsi/framework/scan"
	"github.com/km-arc/go-dsi/framework/session"
	"github.com/km-arc/go-dsi/framework/web"
	"github.com/km-arc/go-dsi/framework/websocket"
)

// Extra scanner names. Packages given to them are scanned after the
// context resolved, so their web handlers, filters, components and
// endpoints join the running table and managers.
const (
	WebScanner       = "web"
	WebsocketScanner = "websocket"
)

// Starter contributes the embedded server components. Importing this
// package is enough to enable it.
type Starter struct{ providers.Base }

// ExtraScanners registers the web and websocket lazy scanners.
func (Starter) ExtraScanners(ctx *container.Context) map[string]scan.Scanner {
	s := scan.NewContextScanner(ctx)
	return map[string]scan.Scanner{WebScanner: s, WebsocketScanner: s}
}

func init() {
	pkg := scan.PackageOf(Starter{})
	scan.Factory(pkg, "metrics", func() any { return metrics.NewCollector() })
	scan.Factory(pkg, "http-session-manager", func() any { return session.NewManager("http") })
	scan.Factory(pkg, "managed-session-manager", func() any { return session.NewManager("managed") })
	scan.Factory(pkg, "view", func() any { return gohttp.NewViewEngine("./views", ".html") })
	scan.Factory(pkg, "web-handler-table", func() any { return web.NewTable() })
	scan.Factory(pkg, "web-dispatcher", func() any { return web.NewDispatcher(nil, "/apis") })
	scan.Factory(pkg, "websocket-manager", func() any { return websocket.NewManager() })
	scan.Factory(pkg, "httpd", func() any { return NewServer() })
	providers.Register(Starter{})
}
