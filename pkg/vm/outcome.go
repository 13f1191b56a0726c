package vm

// IntentKind tags one deferred state mutation.
type IntentKind uint8

const (
	IntentStorageSet IntentKind = iota + 1
	IntentStorageRemove
	IntentBalance
)

func (k IntentKind) String() string {
	switch k {
	case IntentStorageSet:
		return "storage_set"
	case IntentStorageRemove:
		return "storage_remove"
	case IntentBalance:
		return "balance"
	default:
		return "unknown"
	}
}

func (k IntentKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// Intent is a deferred, not-yet-applied state change produced by a host
// call. Host calls append intents instead of writing through to storage,
// so a failing execution is discarded atomically by the caller. A
// StorageRemove intent is a tombstone for Key; a Balance intent adjusts
// Account by Delta.
type Intent struct {
	Kind    IntentKind `json:"kind"`
	Key     []byte     `json:"key,omitempty"`
	Value   []byte     `json:"value,omitempty"`
	Account string     `json:"account,omitempty"`
	Delta   int64      `json:"delta,omitempty"`
}

// Promise is a scheduled cross-contract call whose result is only
// observable in a later, separate execution. After lists the promise
// indices this one is chained behind (empty for a root promise).
type Promise struct {
	Index   uint64   `json:"index"`
	After   []uint64 `json:"after,omitempty"`
	Account string   `json:"account"`
	Method  string   `json:"method"`
	Args    []byte   `json:"args,omitempty"`
	Gas     uint64   `json:"gas"`
}

// Outcome is the single result of one execution, immutable once
// produced. GasBurnt is attributed up to the point of failure; spent gas
// is never refunded. When Err is a contract fault the storage and balance
// intents have already been discarded; logs and scheduled promises are
// retained per protocol semantics.
type Outcome struct {
	ReturnValue []byte    `json:"return_value,omitempty"`
	GasBurnt    uint64    `json:"gas_burnt"`
	Logs        []string  `json:"logs,omitempty"`
	Intents     []Intent  `json:"intents,omitempty"`
	Promises    []Promise `json:"promises,omitempty"`
	Err         *VMError  `json:"error,omitempty"`
}
