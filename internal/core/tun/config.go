package tun

// Config holds the TUN interface settings.
type Config struct {
	Name    string // interface name, "mouse" by default
	Queues  int    // number of multiqueue descriptors
	MTU     int    // link MTU applied by ConfigureLink
	Address string // optional CIDR assigned to the link, e.g. "10.8.0.2/24"
	Up      bool   // bring the link up after creation
}

const (
	DefaultName   = "mouse"
	DefaultQueues = 16
	DefaultMTU    = 1500
)

// BufferSize returns the per-queue receive buffer for c. It is never smaller
// than DefaultBufferSize.
func (c Config) BufferSize() int {
	if c.MTU > DefaultBufferSize {
		return c.MTU
	}
	return DefaultBufferSize
}
