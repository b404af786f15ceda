package main

import (
	"fmt"
	"os"

	"github.com/DoyleJ11/spellduel/internal/config"
	"github.com/spf13/cobra"
)

const releaseVersion = "0.1.0"

func main() {
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg := config.Default()
	cfg.LogLevel = "warn"
	cobra.CheckErr(newCmd(&cfg).Execute())
}
