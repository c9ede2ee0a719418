// Package abiloader reads the event ABI and deployments JSON files at
// startup and derives the (contract address, event topic) pair a service
// needs to filter logs or identify its own events. This is a direct port of
// the JSON walk in original_source/src/bin/subscribe.rs and includer.rs —
// find the ABI item of kind "event" with the configured name, join its
// input types into a canonical signature, and hash it.
package abiloader

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"golang.org/x/crypto/sha3"

	"github.com/klaytn/depositrelay/internal/errs"
)

// EventDescriptor is the (address, topic) pair derived from the ABI and
// deployments files for a single named event.
type EventDescriptor struct {
	ContractAddress common.Address
	Topic           common.Hash
	Signature       string
}

type abiItem struct {
	Type   string     `json:"type"`
	Name   string     `json:"name"`
	Inputs []abiInput `json:"inputs"`
}

type abiInput struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Indexed bool   `json:"indexed"`
}

// Load reads abiPath and deploymentsPath, selects the ABI event named
// eventName, derives its topic, and resolves addressField from the
// deployments map. Returns a ConfigError on any missing file, malformed
// JSON, missing item/field, or invalid hex.
func Load(abiPath, deploymentsPath, eventName, addressField string) (EventDescriptor, error) {
	sig, err := loadSignature(abiPath, eventName)
	if err != nil {
		return EventDescriptor{}, err
	}
	addr, err := loadAddress(deploymentsPath, addressField)
	if err != nil {
		return EventDescriptor{}, err
	}
	return EventDescriptor{
		ContractAddress: addr,
		Topic:           topicFromSignature(sig),
		Signature:       sig,
	}, nil
}

func loadSignature(abiPath, eventName string) (string, error) {
	raw, err := os.ReadFile(abiPath)
	if err != nil {
		return "", &errs.ConfigError{Op: "read ABI file", Err: err}
	}

	var items []abiItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return "", &errs.ConfigError{Op: "parse ABI JSON", Err: err}
	}

	for _, item := range items {
		if item.Type != "event" || item.Name != eventName {
			continue
		}
		types := make([]string, len(item.Inputs))
		for i, in := range item.Inputs {
			if in.Type == "" {
				return "", &errs.ConfigError{Op: "parse ABI JSON", Err: errors.Errorf("event %s input %d missing type", eventName, i)}
			}
			types[i] = in.Type
		}
		return eventName + "(" + strings.Join(types, ",") + ")", nil
	}
	return "", &errs.ConfigError{Op: "parse ABI JSON", Err: errors.Errorf("ABI does not contain event %s", eventName)}
}

// LoadAddress reads deploymentsPath and resolves the address-valued field
// named field, independent of any event descriptor. Used by the includer,
// which needs only the destination token address (spec.md §4.1).
func LoadAddress(deploymentsPath, field string) (common.Address, error) {
	return loadAddress(deploymentsPath, field)
}

func loadAddress(deploymentsPath, field string) (common.Address, error) {
	raw, err := os.ReadFile(deploymentsPath)
	if err != nil {
		return common.Address{}, &errs.ConfigError{Op: "read deployments file", Err: err}
	}

	var deployments map[string]interface{}
	if err := json.Unmarshal(raw, &deployments); err != nil {
		return common.Address{}, &errs.ConfigError{Op: "parse deployments JSON", Err: err}
	}

	v, ok := deployments[field]
	if !ok {
		return common.Address{}, &errs.ConfigError{Op: "parse deployments JSON", Err: errors.Errorf("deployments.json missing field %q", field)}
	}
	s, ok := v.(string)
	if !ok {
		return common.Address{}, &errs.ConfigError{Op: "parse deployments JSON", Err: errors.Errorf("deployments.json field %q is not a string", field)}
	}
	if !common.IsHexAddress(s) {
		return common.Address{}, &errs.ConfigError{Op: "parse deployments JSON", Err: errors.Errorf("invalid address %q for field %q", s, field)}
	}
	return common.HexToAddress(s), nil
}

// topicFromSignature derives the keccak256 topic hash of an event
// signature, the same construction accounts/abi/bind-based contract
// bindings rely on (github.com/ethereum/go-ethereum/crypto.Keccak256).
func topicFromSignature(sig string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig))
	return common.BytesToHash(h.Sum(nil))
}
