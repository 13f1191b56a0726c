// Package backend selects the execution engine variant. The set is
// closed: a deployment picks one variant in configuration at process
// start and keeps it for the life of the process, because the compiled
// artifact cache is keyed by the variant and artifacts never cross it.
package backend

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/meshplus/wasmcore/pkg/vm"
	"github.com/meshplus/wasmcore/pkg/vm/backend/wasmtimevm"
	"github.com/meshplus/wasmcore/pkg/vm/backend/wazerovm"
)

// New constructs the named backend variant.
func New(typ string, logger logrus.FieldLogger) (vm.Backend, error) {
	switch typ {
	case wazerovm.Name:
		return wazerovm.New(logger)
	case wasmtimevm.Name:
		return wasmtimevm.New(logger)
	default:
		return nil, errors.Errorf("unsupported backend type: %s", typ)
	}
}
