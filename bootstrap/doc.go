// Package bootstrap builds a sigforge process from configuration.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//
//	ctx, stop := bootstrap.SignalContext(ctx)
//	defer stop()
//	if err := app.Serve(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
