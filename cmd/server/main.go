package main

import (
    "github.com/kiliankoe/storyduel/internal/config"
    "github.com/spf13/cobra"
)

const version = "v0.1.0-dev"

func main() {
    cfg := &config.Config{}
    cobra.CheckErr(newCmd(cfg).Execute())
}
