package main

import (
	"os"

	"pulsewatch.dev/pulsewatch/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
