package sntp

// Transport is the datagram transport a [Client] sends requests and receives replies through.
// Implementations must never block: Available and Read return immediately with whatever
// data is present. The Client is the sole user of the Transport between Bind and Close.
type Transport interface {
	// Bind acquires the local port. It is called once when the Client is configured.
	Bind(localPort uint16) error
	// Close releases the resources acquired by Bind. It is also called when Bind fails.
	Close() error
	// BeginSend starts composing a datagram destined to host:port.
	BeginSend(host string, port uint16) error
	// Write appends b to the datagram being composed.
	Write(b []byte) (int, error)
	// EndSend transmits the composed datagram.
	EndSend() error
	// Available returns the length of the next inbound datagram or 0 if there is none.
	Available() int
	// Read reads the next inbound datagram into b. Datagram bytes that do not fit in b are discarded.
	Read(b []byte) (int, error)
}
