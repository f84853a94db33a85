package main

import (
	"os"

	"xrayd/internal/xrayctl"
)

func main() { os.Exit(xrayctl.Main()) }
