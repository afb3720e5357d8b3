// Package main is the entry point for the knowledge-base service.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/knowledge-base/cmd/kb-server/app"
)

func main() {
	app.NewApp().Run()
}
