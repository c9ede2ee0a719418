// Command includer runs the consume/mint side of the relay: it consumes
// DepositMessages from the broker queue and submits the corresponding mint
// on Chain B. Bootstrap mirrors cmd/subscriber/main.go's urfave/cli shape.
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
	"github.com/klaytn/depositrelay/internal/includer"
	"github.com/klaytn/depositrelay/internal/ledger"
	"github.com/klaytn/depositrelay/internal/logging"
)

var log = logging.Module("cmd/includer")

const consumerTag = "includer"

func main() {
	app := cli.NewApp()
	app.Name = "includer"
	app.Usage = "consume Deposited events and mint on Chain B"
	app.Flags = []cli.Flag{
		&config.DatabaseURLFlag,
		&config.ChainBURLFlag,
		&config.PrivateKeyFlag,
		&config.RabbitMQURLFlag,
		&config.QueueNameFlag,
		&config.ServiceNameFlag,
		&config.DeploymentsPathFlag,
		&config.InclusionTimeoutFlag,
	}
	app.Action = run

	defer logging.Sync()
	if err := app.Run(os.Args); err != nil {
		log.Errorw("exiting", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadIncluder(c)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tokenAddress, err := abiloader.LoadAddress(cfg.DeploymentsPath, "token")
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

	signer, err := chainclient.DialSign(ctx, cfg.ChainBURL, cfg.PrivateKey, cfg.InclusionTimeout)
	if err != nil {
		return err
	}
	defer signer.Close()

	b, err := broker.Connect(cfg.RabbitMQURL, cfg.QueueName)
	if err != nil {
		return err
	}
	defer b.Close()
	if err := b.Prefetch(8); err != nil {
		return err
	}
	deliveries, err := b.Consume(consumerTag)
	if err != nil {
		return err
	}

	loop := includer.New(signer, store, tokenAddress)
	log.Infow("includer started", "service_name", cfg.ServiceName, "queue", cfg.QueueName, "token", tokenAddress.Hex())

	for {
		select {
		case <-ctx.Done():
			log.Infow("includer shutting down")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			// An in-flight delivery runs to completion even after a
			// shutdown signal, so a submitted mint is always finalized.
			if err := loop.HandleDelivery(context.WithoutCancel(ctx), includer.FromAMQP(d)); err != nil {
				return err
			}
		}
	}
}
