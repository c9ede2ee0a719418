package abiloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klaytn/depositrelay/internal/errs"
)

const sampleABI = `[
	{"type":"event","name":"Deposited","inputs":[
		{"name":"sender","type":"address","indexed":true},
		{"name":"amount","type":"string","indexed":false}
	]},
	{"type":"function","name":"mint","inputs":[]}
]`

const sampleDeployments = `{
	"deposit": "0x0000000000000000000000000000000000d00005",
	"token": "0x000000000000000000000000000000000070c3a0"
}`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_DerivesSignatureTopicAndAddress(t *testing.T) {
	abiPath := writeTempFile(t, "abi.json", sampleABI)
	deploymentsPath := writeTempFile(t, "deployments.json", sampleDeployments)

	event, err := Load(abiPath, deploymentsPath, "Deposited", "deposit")
	require.NoError(t, err)

	assert.Equal(t, "Deposited(address,string)", event.Signature)
	assert.NotEqual(t, common.Hash{}, event.Topic)
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000d00005"), event.ContractAddress)
}

func TestLoad_MissingEventIsConfigError(t *testing.T) {
	abiPath := writeTempFile(t, "abi.json", sampleABI)
	deploymentsPath := writeTempFile(t, "deployments.json", sampleDeployments)

	_, err := Load(abiPath, deploymentsPath, "NotAnEvent", "deposit")

	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoad_MissingDeploymentFieldIsConfigError(t *testing.T) {
	abiPath := writeTempFile(t, "abi.json", sampleABI)
	deploymentsPath := writeTempFile(t, "deployments.json", sampleDeployments)

	_, err := Load(abiPath, deploymentsPath, "Deposited", "nonexistent")

	var cfgErr *errs.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadAddress_ResolvesTokenField(t *testing.T) {
	deploymentsPath := writeTempFile(t, "deployments.json", sampleDeployments)

	addr, err := LoadAddress(deploymentsPath, "token")
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x000000000000000000000000000000000070c3a0"), addr)
}
