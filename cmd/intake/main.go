package main

import (
	"context"
	"time"

	"github.com/niksmo/product-intake/config"
	"github.com/niksmo/product-intake/internal/app"
	"github.com/niksmo/product-intake/pkg/sigctx"
)

const defaultCloseTimeout = 30 * time.Second

func main() {
	sigCtx, closeApp := sigctx.NotifyContext()
	defer closeApp()

	cfg := config.Load()
	cfg.Print()

	intake := app.New(sigCtx, cfg)

	intake.Run(closeApp)

	<-sigCtx.Done()

	closeTimeout := cfg.Service.CloseTimeout
	if closeTimeout <= 0 {
		closeTimeout = defaultCloseTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()

	intake.Close(ctx)
}
