package main

import (
	"os"

	"github.com/blackwell-systems/osslup/internal/app"
)

func main() {
	os.Exit(app.Execute())
}
