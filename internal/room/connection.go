package room

import "time"

// ConnState is the lifecycle state of a Connection's underlying socket.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport abstracts the underlying WebSocket connection so the Room's routing logic can be exercised without a
// real socket. The production implementation wraps a gofiber/contrib websocket.Conn; tests use an in-memory fake.
type Transport interface {
	// Send writes a single frame. Implementations decide their own backpressure policy; the Room treats any error
	// as "this peer is gone" and removes it from its role maps.
	Send(payload []byte) error
	// Close terminates the connection with the given WebSocket close code and reason.
	Close(code int, reason string) error
}

// Metadata carries the non-authoritative connection attributes the spec's Connection type names.
type Metadata struct {
	UserAgent string
	Origin    string
}

// Connection is one admitted socket attached to a Room. Its State and role-map membership are only ever mutated by
// the owning Room's single event-loop goroutine.
type Connection struct {
	ID          string
	Role        string
	ProjectID   string
	Transport   Transport
	State       ConnState
	ConnectedAt time.Time
	Meta        Metadata
}

// send delivers payload to the connection, marking it Closed on any transport error so the Room's caller can evict
// it from its role map on the next read of State.
func (c *Connection) send(payload []byte) error {
	if err := c.Transport.Send(payload); err != nil {
		c.State = StateClosed
		return err
	}
	return nil
}
