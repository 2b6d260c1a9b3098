package types

// ProxyUsage is the live load of one proxy pool entry.
type ProxyUsage struct {
	Address  string `json:"address"` // 空字符串表示直连
	Capacity int    `json:"capacity"`
	InUse    int    `json:"in_use"`
}

// QueryStatus is the state of the current (or last) batch.
type QueryStatus struct {
	Running   bool         `json:"running"`
	BatchID   string       `json:"batch_id,omitempty"`
	Submitted int          `json:"submitted"`
	Pending   int          `json:"pending"`
	InFlight  int          `json:"in_flight"`
	Completed int          `json:"completed"`
	Stopped   bool         `json:"stopped"`
	Keys      int          `json:"keys"`
	Proxies   []ProxyUsage `json:"proxies"`
}
