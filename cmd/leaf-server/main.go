// Package main is the entry point of the leaf server.
package main

import (
	_ "go.uber.org/automaxprocs/maxprocs"

	"github.com/kart-io/leaf-server/cmd/leaf-server/app"
)

func main() {
	app.NewApp().Run()
}
