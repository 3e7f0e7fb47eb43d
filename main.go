package main

import (
	"github.com/km-arc/go-dsi/app"
	"github.com/km-arc/go-dsi/framework/command"
)

func main() {
	command.Execute(app.Options())
}
