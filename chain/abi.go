// Package chain adapts the deployed FundMe contract to typed Go calls.
//
// Reads go straight to the node through a bind.ContractCaller. Writes are
// packed with the embedded ABI and handed to the wallet, which signs and
// broadcasts them; WaitMined then polls the node for the receipt.
package chain

import (
	_ "embed"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed fundme.abi.json
var fundMeABI string

// Contract method names
const (
	MethodFund            = "fund"
	MethodCheaperWithdraw = "cheaperWithdraw"
	MethodGetOwner        = "getOwner"
	MethodGetFunder       = "getFunder"
	MethodAmountFunded    = "getAddressToAmountFunded"
)

// ErrorNotOwner is the custom error raised when a non-owner withdraws
const ErrorNotOwner = "FundMe__NotOwner"

// NotOwnerSelector is the 4-byte selector of FundMe__NotOwner()
var NotOwnerSelector = [4]byte{0x57, 0x96, 0x10, 0xdb}

// ABI is the parsed FundMe interface
var ABI = mustParseABI(fundMeABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
