// Command counter-invoke creates a counter account, runs counter instructions
// against it in a single transaction and prints the resulting logs.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	cobra.CheckErr(newRootCmd().ExecuteContext(ctx))
}
