package remote

import "dataportal/internal/infra/remote/memory"

// MemoryStore is the in-process driver. Its failure-injection hooks are used
// by workflow tests in other packages.
type MemoryStore = memory.Store

// MemoryOp names a MemoryStore operation for failure injection.
type MemoryOp = memory.Op

const (
	OpStart        = memory.OpStart
	OpAppend       = memory.OpAppend
	OpFinish       = memory.OpFinish
	OpList         = memory.OpList
	OpCreateFolder = memory.OpCreateFolder
	OpCopy         = memory.OpCopy
	OpCheckCopy    = memory.OpCheckCopy
	OpMove         = memory.OpMove
	OpDelete       = memory.OpDelete
)

// NewMemory returns an empty in-process store.
func NewMemory() *MemoryStore { return memory.New() }
