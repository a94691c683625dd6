package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Event names emitted by the deposit contract. Field names and the 10^18
// integer unit are bit-exact contract dependencies.
const (
	EventDeposit        = "Deposit"
	EventWithdraw       = "Withdraw"
	EventUsageDeduction = "UsageDeduction"
)

// depositABIJSON is the deposit contract interface: deposit/getBalance for
// users, withdraw/deductUsage for the operator, plus the settlement events.
const depositABIJSON = `[
	{"constant":false,"inputs":[{"name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"type":"function"},
	{"constant":true,"inputs":[{"name":"user","type":"address"}],"name":"getBalance","outputs":[{"name":"","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"type":"function"},
	{"constant":false,"inputs":[{"name":"user","type":"address"},{"name":"amount","type":"uint256"},{"name":"recipient","type":"address"}],"name":"deductUsage","outputs":[],"type":"function"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Deposit","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"amount","type":"uint256"}],"name":"Withdraw","type":"event"},
	{"anonymous":false,"inputs":[{"indexed":true,"name":"user","type":"address"},{"indexed":false,"name":"amount","type":"uint256"},{"indexed":false,"name":"recipient","type":"address"}],"name":"UsageDeduction","type":"event"}
]`

func mustDepositABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(depositABIJSON))
	if err != nil {
		panic("chain: invalid deposit ABI: " + err.Error())
	}
	return parsed
}
