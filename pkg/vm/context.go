package vm

import "github.com/sirupsen/logrus"

// Context carries the per-call execution parameters. It is created for a
// single execution, owned exclusively by it, and destroyed with it.
type Context struct {
	Method string
	Input  []byte

	GasLimit uint64
	GasPrice uint64

	BlockHeight    uint64
	BlockTimestamp uint64
	EpochID        string

	CurrentAccount  string
	CallerAccount   string
	SignerAccount   string
	AttachedDeposit uint64

	Logger logrus.FieldLogger
}

// NewContext creates the context of one contract call.
func NewContext(method string, input []byte, gasLimit uint64, logger logrus.FieldLogger) *Context {
	return &Context{
		Method:   method,
		Input:    input,
		GasLimit: gasLimit,
		Logger:   logger,
	}
}
