//go:build ignore

package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	rpcURL     = "http://localhost:8545"
	bridgeAddr = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

	viewsABI = `[
		{"name":"currentNonce","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
		{"name":"supplyCap","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
		{"name":"paused","type":"function","stateMutability":"view","inputs":[],"outputs":[{"type":"bool"}]}
	]`
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "dial: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	block, err := client.BlockNumber(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "block number: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("latest block: %d\n", block)

	parsed, err := abi.JSON(strings.NewReader(viewsABI))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse abi: %v\n", err)
		os.Exit(1)
	}
	addr := common.HexToAddress(bridgeAddr)

	call := func(method string) []interface{} {
		data, err := parsed.Pack(method)
		if err != nil {
			fmt.Fprintf(os.Stderr, "pack %s: %v\n", method, err)
			os.Exit(1)
		}
		raw, err := client.CallContract(ctx, callMsg(addr, data), nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "call %s: %v\n", method, err)
			os.Exit(1)
		}
		out, err := parsed.Unpack(method, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "unpack %s: %v\n", method, err)
			os.Exit(1)
		}
		return out
	}

	nonce := call("currentNonce")[0].(*big.Int)
	supplyCap := call("supplyCap")[0].(*big.Int)
	paused := call("paused")[0].(bool)

	fmt.Printf("current nonce: %s\n", nonce)
	fmt.Printf("supply cap:    %s (%s mUSD)\n", supplyCap, new(big.Int).Div(supplyCap, big.NewInt(1_000_000)))
	fmt.Printf("paused:        %v\n", paused)
}

func callMsg(to common.Address, data []byte) ethereum.CallMsg {
	return ethereum.CallMsg{To: &to, Data: data}
}
