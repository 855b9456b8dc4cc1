package types

import "fmt"

// Network addressing constants.
const (
	// NATAddress is the reserved destination for the NAT controller.
	NATAddress = 255

	// NoPacket is the sentinel fed to a machine whose inbound queue is empty.
	NoPacket = Word(-1)
)

// Packet is the unit of inter-machine communication: an (X, Y) value pair
// tagged with a destination machine address.
type Packet struct {
	Dest Word
	X    Word
	Y    Word
}

// String returns a compact human-readable form for logging.
func (p Packet) String() string {
	return fmt.Sprintf("(%d,%d)->%d", p.X, p.Y, p.Dest)
}
