package main

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command string `json:"command"` // "status"
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	Tracked   int    `json:"tracked"`   // devices with live state
	Pending   int    `json:"pending"`   // devices with an armed reconnect timer
	Attempted int    `json:"attempted"` // reconnect attempts issued since start
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Error     string `json:"error,omitempty"`
}
