// Package contracts wraps the MintedBridge contract. The binding is
// maintained by hand against the deployed ABI; regenerate the method list
// here if the contract interface changes.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// MintedBridgeABI is the input ABI of the deployed bridge contract.
const MintedBridgeABI = `[
	{"type":"function","name":"currentNonce","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"supplyCap","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"isRedemptionSettled","stateMutability":"view","inputs":[{"name":"redemptionId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"PAUSER_ROLE","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"submitAttestation","stateMutability":"nonpayable","inputs":[{"name":"nonce","type":"uint256"},{"name":"collateral","type":"uint256"},{"name":"newSupplyCap","type":"uint256"},{"name":"expiresAt","type":"uint256"},{"name":"signatures","type":"bytes[]"}],"outputs":[]},
	{"type":"function","name":"settleRedemption","stateMutability":"nonpayable","inputs":[{"name":"redemptionId","type":"bytes32"},{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"emergencyPause","stateMutability":"nonpayable","inputs":[],"outputs":[]},
	{"type":"event","name":"BridgeOut","inputs":[{"name":"nonce","type":"uint256","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"cantonRecipient","type":"string","indexed":false},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false},
	{"type":"event","name":"YieldBridged","inputs":[{"name":"pool","type":"uint8","indexed":true},{"name":"epoch","type":"uint256","indexed":true},{"name":"amount","type":"uint256","indexed":false}],"anonymous":false}
]`

// Yield pool discriminators in the YieldBridged event.
const (
	YieldPoolStaking uint8 = 0
	YieldPoolBoost   uint8 = 1
)

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(MintedBridgeABI))
	if err != nil {
		panic(fmt.Sprintf("parse bridge ABI: %v", err))
	}
	return parsed
}()

// ABI returns the parsed bridge contract ABI.
func ABI() abi.ABI {
	return parsedABI
}

// MintedBridge binds to a deployed bridge contract instance.
type MintedBridge struct {
	address  common.Address
	contract *bind.BoundContract
}

// NewMintedBridge binds a bridge instance at address through backend.
func NewMintedBridge(address common.Address, backend bind.ContractBackend) *MintedBridge {
	return &MintedBridge{
		address:  address,
		contract: bind.NewBoundContract(address, parsedABI, backend, backend, backend),
	}
}

// Address returns the bound contract address.
func (b *MintedBridge) Address() common.Address {
	return b.address
}

// CurrentNonce returns the last attestation nonce accepted by the contract.
func (b *MintedBridge) CurrentNonce(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "currentNonce"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// SupplyCap returns the current on-chain supply cap.
func (b *MintedBridge) SupplyCap(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "supplyCap"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Paused reports whether the bridge is paused.
func (b *MintedBridge) Paused(opts *bind.CallOpts) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "paused"); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// IsRedemptionSettled reports whether a redemption id was already paid out.
func (b *MintedBridge) IsRedemptionSettled(opts *bind.CallOpts, redemptionID [32]byte) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "isRedemptionSettled", redemptionID); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// HasRole reports whether account holds role.
func (b *MintedBridge) HasRole(opts *bind.CallOpts, role [32]byte, account common.Address) (bool, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "hasRole", role, account); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// PauserRole returns the PAUSER_ROLE identifier.
func (b *MintedBridge) PauserRole(opts *bind.CallOpts) ([32]byte, error) {
	var out []interface{}
	if err := b.contract.Call(opts, &out, "PAUSER_ROLE"); err != nil {
		return [32]byte{}, err
	}
	return *abi.ConvertType(out[0], new([32]byte)).(*[32]byte), nil
}

// SubmitAttestation submits a quorum of validator signatures for a nonce.
func (b *MintedBridge) SubmitAttestation(opts *bind.TransactOpts, nonce, collateral, newSupplyCap, expiresAt *big.Int, signatures [][]byte) (*types.Transaction, error) {
	return b.contract.Transact(opts, "submitAttestation", nonce, collateral, newSupplyCap, expiresAt, signatures)
}

// SettleRedemption pays out a ledger-side redemption.
func (b *MintedBridge) SettleRedemption(opts *bind.TransactOpts, redemptionID [32]byte, recipient common.Address, amount *big.Int) (*types.Transaction, error) {
	return b.contract.Transact(opts, "settleRedemption", redemptionID, recipient, amount)
}

// EmergencyPause halts the bridge. One-way; resuming requires governance.
func (b *MintedBridge) EmergencyPause(opts *bind.TransactOpts) (*types.Transaction, error) {
	return b.contract.Transact(opts, "emergencyPause")
}

// BridgeOutEvent is an Ethereum-to-Canton transfer request.
type BridgeOutEvent struct {
	Nonce           *big.Int
	Sender          common.Address
	CantonRecipient string
	Amount          *big.Int
	Raw             types.Log
}

// YieldBridgedEvent is a yield transfer destined for a ledger pool.
type YieldBridgedEvent struct {
	Pool   uint8
	Epoch  *big.Int
	Amount *big.Int
	Raw    types.Log
}

// ParseBridgeOut decodes a BridgeOut log.
func ParseBridgeOut(log types.Log) (*BridgeOutEvent, error) {
	event := new(BridgeOutEvent)
	if err := unpackLog(event, "BridgeOut", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

// ParseYieldBridged decodes a YieldBridged log.
func ParseYieldBridged(log types.Log) (*YieldBridgedEvent, error) {
	event := new(YieldBridgedEvent)
	if err := unpackLog(event, "YieldBridged", log); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

// EventTopic returns the topic hash for a named event.
func EventTopic(name string) (common.Hash, error) {
	ev, ok := parsedABI.Events[name]
	if !ok {
		return common.Hash{}, fmt.Errorf("unknown event %q", name)
	}
	return ev.ID, nil
}

func unpackLog(out interface{}, event string, log types.Log) error {
	ev, ok := parsedABI.Events[event]
	if !ok {
		return fmt.Errorf("unknown event %q", event)
	}
	if len(log.Topics) == 0 || log.Topics[0] != ev.ID {
		return fmt.Errorf("log is not a %s event", event)
	}
	if len(log.Data) > 0 {
		if err := parsedABI.UnpackIntoInterface(out, event, log.Data); err != nil {
			return err
		}
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return abi.ParseTopics(out, indexed, log.Topics[1:])
}
