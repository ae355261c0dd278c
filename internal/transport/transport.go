// Package transport connects the engine to the realtime event feed. Two
// implementations exist: a websocket client for browser-bridge deployments
// and a NATS JetStream consumer for backend deployments following the ledger
// indexer directly. Both decode event envelopes into the bus, report
// liveness to the connection monitor, and carry resync requests back to the
// feed. Actions are not sent here; every action is a signed transaction and
// goes through the wallet bridge.
package transport

// Frame is the outbound wire format for client-initiated traffic.
type Frame struct {
	Op     string `json:"op"` // currently only "sync"
	RoomID string `json:"room_id"`
	Full   bool   `json:"full,omitempty"` // discard-and-refetch
}

const opSync = "sync"
