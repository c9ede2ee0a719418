package config

import (
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli"

	"github.com/klaytn/depositrelay/internal/errs"
)

func newTestContext(t *testing.T, values map[string]string, flags ...cli.Flag) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	for _, f := range flags {
		f.Apply(set)
	}
	for k, v := range values {
		require.NoError(t, set.Set(k, v))
	}
	return cli.NewContext(cli.NewApp(), set, nil)
}

func allFlags() []cli.Flag {
	return []cli.Flag{
		&DatabaseURLFlag, &ChainAURLFlag, &ChainBURLFlag, &PrivateKeyFlag,
		&RabbitMQURLFlag, &QueueNameFlag, &ServiceNameFlag,
		&EventABIPathFlag, &DeploymentsPathFlag, &InclusionTimeoutFlag,
	}
}

func TestLoadSubscriber_MissingRequiredFieldIsConfigError(t *testing.T) {
	c := newTestContext(t, map[string]string{}, allFlags()...)

	_, err := LoadSubscriber(c)
	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadSubscriber_AllFieldsPresent(t *testing.T) {
	c := newTestContext(t, map[string]string{
		"database-url": "postgres://x", "chaina-url": "http://a",
		"rabbitmq-url": "amqp://b", "queue-name": "q", "service-name": "svc",
		"event-abi": "/abi.json", "deployments": "/deployments.json",
	}, allFlags()...)

	cfg, err := LoadSubscriber(c)
	require.NoError(t, err)
	assert.Equal(t, "postgres://x", cfg.DatabaseURL)
	assert.Equal(t, "http://a", cfg.ChainAURL)
	assert.Equal(t, "q", cfg.QueueName)
}

func TestLoadIncluder_RequiresPrivateKeyAndChainB(t *testing.T) {
	c := newTestContext(t, map[string]string{
		"database-url": "postgres://x", "rabbitmq-url": "amqp://b",
		"queue-name": "q", "service-name": "svc",
		"event-abi": "/abi.json", "deployments": "/deployments.json",
	}, allFlags()...)

	_, err := LoadIncluder(c)
	require.Error(t, err)
}

func TestLoadIncluder_DefaultsInclusionTimeout(t *testing.T) {
	c := newTestContext(t, map[string]string{
		"database-url": "postgres://x", "chainb-url": "http://b",
		"private-key": "deadbeef", "rabbitmq-url": "amqp://b",
		"queue-name": "q", "service-name": "svc",
		"event-abi": "/abi.json", "deployments": "/deployments.json",
	}, allFlags()...)

	cfg, err := LoadIncluder(c)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.InclusionTimeout)
}
