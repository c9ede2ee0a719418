// Command subscriber runs the scan/publish side of the relay: it tails
// Chain A for Deposited events and publishes one message per confirmed
// event to the broker queue. Bootstrap follows the urfave/cli app shape
// cmd/kcn/main.go uses for the klaytn node binary, narrowed to this
// service's flag set.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli"

	"github.com/klaytn/depositrelay/internal/abiloader"
	"github.com/klaytn/depositrelay/internal/broker"
	"github.com/klaytn/depositrelay/internal/chainclient"
	"github.com/klaytn/depositrelay/internal/config"
	"github.com/klaytn/depositrelay/internal/ledger"
	"github.com/klaytn/depositrelay/internal/logging"
	"github.com/klaytn/depositrelay/internal/subscriber"
)

var log = logging.Module("cmd/subscriber")

func main() {
	app := cli.NewApp()
	app.Name = "subscriber"
	app.Usage = "tail Chain A and publish Deposited events"
	app.Flags = []cli.Flag{
		&config.DatabaseURLFlag,
		&config.ChainAURLFlag,
		&config.RabbitMQURLFlag,
		&config.QueueNameFlag,
		&config.ServiceNameFlag,
		&config.EventABIPathFlag,
		&config.DeploymentsPathFlag,
	}
	app.Action = run

	defer logging.Sync()
	if err := app.Run(os.Args); err != nil {
		log.Errorw("exiting", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadSubscriber(c)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	event, err := abiloader.Load(cfg.EventABIPath, cfg.DeploymentsPath, "Deposited", "deposit")
	if err != nil {
		return err
	}

	store, err := ledger.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	chain, err := chainclient.DialRead(ctx, cfg.ChainAURL)
	if err != nil {
		return err
	}
	defer chain.Close()
	if _, err := chain.HeadBlock(ctx); err != nil {
		return err
	}

	b, err := broker.Connect(cfg.RabbitMQURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer b.Close()

	loop, err := subscriber.New(chain, b, store, event, cfg.ServiceName, cfg.QueueName)
	if err != nil {
		return err
	}
	if err := loop.Init(ctx); err != nil {
		return err
	}

	log.Infow("subscriber started", "service_name", cfg.ServiceName, "queue", cfg.QueueName, "contract", event.ContractAddress.Hex())
	for ctx.Err() == nil {
		// An in-flight scan iteration runs to completion even after a
		// shutdown signal; the loop stops before the next one.
		if err := loop.RunOnce(context.WithoutCancel(ctx)); err != nil {
			return err
		}
	}
	log.Infow("subscriber shutting down")
	return nil
}
