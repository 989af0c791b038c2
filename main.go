// ./main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/erpfill/cmd"
)

func main() {
	// The first Ctrl-C lets the current row finish and stops before the next
	// one. A second Ctrl-C gets the default behaviour and kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	code := cmd.Execute(ctx)
	stop()
	os.Exit(code)
}
