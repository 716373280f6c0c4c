package ami

import "strconv"

// Event is one parsed AMI block: an ordered set of key-value headers.
// Order is preserved because Asterisk may repeat keys (Variable, ChanVariable).
type Event struct {
	headers []header
}

type header struct {
	Key   string
	Value string
}

// NewEvent creates an Event from alternating key-value pairs. Test helper.
func NewEvent(kvs ...string) Event {
	e := Event{}
	for i := 0; i+1 < len(kvs); i += 2 {
		e.headers = append(e.headers, header{Key: kvs[i], Value: kvs[i+1]})
	}
	return e
}

// Get returns the value for the given key, or empty string if not found.
func (e Event) Get(key string) string {
	for _, h := range e.headers {
		if h.Key == key {
			return h.Value
		}
	}
	return ""
}

// GetAll returns every value recorded for the given key, in wire order.
func (e Event) GetAll(key string) []string {
	var out []string
	for _, h := range e.headers {
		if h.Key == key {
			out = append(out, h.Value)
		}
	}
	return out
}

// Has reports whether the key appears in the block.
func (e Event) Has(key string) bool {
	for _, h := range e.headers {
		if h.Key == key {
			return true
		}
	}
	return false
}

// Type returns the Event header value (the AMI event type).
func (e Event) Type() string {
	return e.Get("Event")
}

// ActionID returns the client-generated token echoed by the PBX, if any.
func (e Event) ActionID() string {
	return e.Get("ActionID")
}

// UniqueID returns the PBX-assigned call leg id, if any.
func (e Event) UniqueID() string {
	return e.Get("Uniqueid")
}

// GetInt returns the integer value for the given key, or 0 if not found/parseable.
func (e Event) GetInt(key string) int {
	v, _ := strconv.Atoi(e.Get(key))
	return v
}

// IsResponse returns true if this is an AMI action response rather than an event.
func (e Event) IsResponse() bool {
	return e.Get("Response") != ""
}

// Len returns the number of headers in the block.
func (e Event) Len() int {
	return len(e.headers)
}
