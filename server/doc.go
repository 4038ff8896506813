// Package server exposes a proxy.Dispatcher on a TCP listener speaking line-delimited JSON.
//
// Every accepted connection is served by its own task: each request line is handed to the
// dispatcher and answered with exactly one response line. All clients share the dispatcher's
// single backend session.
//
//	cfg, _ := server.NewConfig(server.WithPort(8341))
//	srv := server.NewServer(ctx, cfg, dispatcher)
//	if err := srv.Start(); err != nil {
//	    logger.Fatal("failed to start server", "error", err)
//	}
//	defer srv.Shutdown(context.Background())
package server
