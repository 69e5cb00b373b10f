package main

import (
	"context"
	"os"

	"github.com/wilfranr/control-id-miid/cmd"
	"github.com/wilfranr/control-id-miid/internal/app"
)

func main() {
	ctx := &app.Context{}
	rootCmd := cmd.RootCommand(ctx)

	err := rootCmd.ExecuteContext(context.Background())
	_ = ctx.Close()
	if err != nil {
		os.Exit(1)
	}
}
