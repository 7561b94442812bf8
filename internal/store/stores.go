package store

// Stores is the top-level container for the storage backends the gateway
// wires up at startup: the durable Memory Store (conversations, messages,
// facts, cost rows).
type Stores struct {
	Memory MemoryStore
}
