package main

import (
	"os"

	"github.com/moexlab/tickerlink/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
