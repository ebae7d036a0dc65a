package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ParityABI holds the view functions the poller reads from the borrowing
// fees, vault and open-PnL feed contracts.
var ParityABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(parityABIJson))
	if err != nil {
		panic("parse parity ABI: " + err.Error())
	}
	ParityABI = parsed
}

const (
	methodPairOpenInterest = "getPairOpenInterestWETH"
	methodCurrentEpoch     = "currentEpoch"
	methodPositiveOpenPnl  = "currentEpochPositiveOpenPnl"
	methodRequestCount     = "nextEpochValuesRequestCount"
	methodNextEpochValues  = "nextEpochValues"
)

var parityABIJson = `
[
  {
    "inputs": [{ "internalType": "uint256", "name": "pairIndex", "type": "uint256" }],
    "name": "getPairOpenInterestWETH",
    "outputs": [
      { "internalType": "uint256", "name": "", "type": "uint256" },
      { "internalType": "uint256", "name": "", "type": "uint256" }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "currentEpoch",
    "outputs": [{ "internalType": "uint256", "name": "", "type": "uint256" }],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "currentEpochPositiveOpenPnl",
    "outputs": [{ "internalType": "uint256", "name": "", "type": "uint256" }],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "nextEpochValuesRequestCount",
    "outputs": [{ "internalType": "uint256", "name": "", "type": "uint256" }],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [{ "internalType": "uint256", "name": "", "type": "uint256" }],
    "name": "nextEpochValues",
    "outputs": [{ "internalType": "int256", "name": "", "type": "int256" }],
    "stateMutability": "view",
    "type": "function"
  }
]
`
