package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vinayprograms/laststop/feed"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve log tails over WebSocket",
	Long: `Serve GET /logs/{name}?after=N as a WebSocket stream of JSON records,
for front-ends that render the speech log.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:8090", "listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, _, err := join(ctx, frontendSender, "elec")
	if err != nil {
		return err
	}
	if err := p.announce(ctx); err != nil {
		p.store.Close()
		return err
	}
	defer p.leave()

	handler, err := feed.NewServer(feed.Config{
		Source:       p.store,
		PingInterval: 30 * time.Second,
		Logger:       p.logger,
	})
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              serveAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.logger.Info("listening", map[string]interface{}{"addr": serveAddr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
