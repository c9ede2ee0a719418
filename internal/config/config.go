// Package config loads the relay's environment-driven configuration, the
// same flag-table convention cmd/utils/flags.go uses to declare the
// klaytn node's CLI surface, adapted so every flag also carries an EnvVar
// (spec.md §6's configuration table is entirely environment-driven).
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli"

	"github.com/klaytn/depositrelay/internal/errs"
)

var (
	DatabaseURLFlag = cli.StringFlag{
		Name:   "database-url",
		Usage:  "Postgres connection string for the ledger store",
		EnvVar: "DATABASE_URL",
	}
	ChainAURLFlag = cli.StringFlag{
		Name:   "chaina-url",
		Usage:  "JSON-RPC endpoint for the source chain",
		EnvVar: "CHAINA_URL",
	}
	ChainBURLFlag = cli.StringFlag{
		Name:   "chainb-url",
		Usage:  "JSON-RPC endpoint for the destination chain",
		EnvVar: "CHAIN_B_URL",
	}
	PrivateKeyFlag = cli.StringFlag{
		Name:   "private-key",
		Usage:  "hex-encoded private key used to sign destination transactions",
		EnvVar: "PRIVATE_KEY",
	}
	RabbitMQURLFlag = cli.StringFlag{
		Name:   "rabbitmq-url",
		Usage:  "AMQP connection string for the broker",
		EnvVar: "RABBITMQ_URL",
	}
	QueueNameFlag = cli.StringFlag{
		Name:   "queue-name",
		Usage:  "name of the broker queue carrying DepositMessages",
		EnvVar: "QUEUE_NAME",
		Value:  "deposit_events",
	}
	ServiceNameFlag = cli.StringFlag{
		Name:   "service-name",
		Usage:  "name of this subscriber instance, used as the cursor row key",
		EnvVar: "SERVICE_NAME",
		Value:  "subscriber",
	}
	EventABIPathFlag = cli.StringFlag{
		Name:   "event-abi",
		Usage:  "path to the event ABI JSON file",
		EnvVar: "EVENT_ABI_PATH",
	}
	DeploymentsPathFlag = cli.StringFlag{
		Name:   "deployments",
		Usage:  "path to the deployments JSON file",
		EnvVar: "DEPLOYMENTS_PATH",
	}
	InclusionTimeoutFlag = cli.DurationFlag{
		Name:   "inclusion-timeout",
		Usage:  "how long to wait for a submitted mint transaction to be included",
		EnvVar: "INCLUSION_TIMEOUT",
		Value:  2 * time.Minute,
	}
)

// Common holds the configuration shared by both the subscriber and the
// includer binaries.
type Common struct {
	DatabaseURL     string
	RabbitMQURL     string
	QueueName       string
	ServiceName     string
	EventABIPath    string
	DeploymentsPath string
}

func loadCommon(c *cli.Context) (Common, error) {
	cfg := Common{
		DatabaseURL:     c.String(DatabaseURLFlag.Name),
		RabbitMQURL:     c.String(RabbitMQURLFlag.Name),
		QueueName:       c.String(QueueNameFlag.Name),
		ServiceName:     c.String(ServiceNameFlag.Name),
		EventABIPath:    c.String(EventABIPathFlag.Name),
		DeploymentsPath: c.String(DeploymentsPathFlag.Name),
	}
	missing := map[string]string{
		"DATABASE_URL":     cfg.DatabaseURL,
		"RABBITMQ_URL":     cfg.RabbitMQURL,
		"QUEUE_NAME":       cfg.QueueName,
		"SERVICE_NAME":     cfg.ServiceName,
		"DEPLOYMENTS_PATH": cfg.DeploymentsPath,
	}
	for k, v := range missing {
		if v == "" {
			return Common{}, &errs.ConfigError{Op: "load config", Err: errors.Errorf("%s is required", k)}
		}
	}
	return cfg, nil
}

// SubscriberConfig is the subscriber binary's full configuration.
type SubscriberConfig struct {
	Common
	ChainAURL string
}

// LoadSubscriber reads and validates the subscriber's configuration from a
// populated cli.Context.
func LoadSubscriber(c *cli.Context) (SubscriberConfig, error) {
	common, err := loadCommon(c)
	if err != nil {
		return SubscriberConfig{}, err
	}
	if common.EventABIPath == "" {
		return SubscriberConfig{}, &errs.ConfigError{Op: "load config", Err: errors.New("EVENT_ABI_PATH is required")}
	}
	chainAURL := c.String(ChainAURLFlag.Name)
	if chainAURL == "" {
		return SubscriberConfig{}, &errs.ConfigError{Op: "load config", Err: errors.New("CHAINA_URL is required")}
	}
	return SubscriberConfig{Common: common, ChainAURL: chainAURL}, nil
}

// IncluderConfig is the includer binary's full configuration.
type IncluderConfig struct {
	Common
	ChainBURL        string
	PrivateKey       string
	InclusionTimeout time.Duration
}

// LoadIncluder reads and validates the includer's configuration from a
// populated cli.Context.
func LoadIncluder(c *cli.Context) (IncluderConfig, error) {
	common, err := loadCommon(c)
	if err != nil {
		return IncluderConfig{}, err
	}
	chainBURL := c.String(ChainBURLFlag.Name)
	if chainBURL == "" {
		return IncluderConfig{}, &errs.ConfigError{Op: "load config", Err: errors.New("CHAIN_B_URL is required")}
	}
	privateKey := c.String(PrivateKeyFlag.Name)
	if privateKey == "" {
		return IncluderConfig{}, &errs.ConfigError{Op: "load config", Err: errors.New("PRIVATE_KEY is required")}
	}
	return IncluderConfig{
		Common:           common,
		ChainBURL:        chainBURL,
		PrivateKey:       privateKey,
		InclusionTimeout: c.Duration(InclusionTimeoutFlag.Name),
	}, nil
}
