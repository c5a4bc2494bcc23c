package objectdal

import "strings"

// Capability is the set of operations an accessor declares it can serve.
// Check it before calling optional operations such as List or Presign.
type Capability uint32

const (
	// CapabilityRead means Read and Stat are served.
	CapabilityRead Capability = 1 << iota

	// CapabilityWrite means Write, Create and Delete are served.
	CapabilityWrite

	// CapabilityList means List is served.
	CapabilityList

	// CapabilityPresign means Presign is served.
	CapabilityPresign

	// CapabilityMultipart means the multipart upload operations are served.
	CapabilityMultipart

	// CapabilityBlocking means operations never wait on the network and are
	// safe to call on latency sensitive paths.
	CapabilityBlocking
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapabilityRead, "Read"},
	{CapabilityWrite, "Write"},
	{CapabilityList, "List"},
	{CapabilityPresign, "Presign"},
	{CapabilityMultipart, "Multipart"},
	{CapabilityBlocking, "Blocking"},
}

// Has returns true if every bit of other is set in c.
func (c Capability) Has(other Capability) bool {
	return c&other == other
}

func (c Capability) String() string {
	var names []string
	for _, n := range capabilityNames {
		if c.Has(n.c) {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "Empty"
	}
	return strings.Join(names, " | ")
}

// Hint describes how an accessor's readers behave.
type Hint uint32

const (
	// HintReadIsSeekable means readers returned by Read implement io.Seeker.
	HintReadIsSeekable Hint = 1 << iota

	// HintReadIsStreamable means readers can be consumed chunk by chunk
	// without buffering the whole object.
	HintReadIsStreamable
)

// Has returns true if every bit of other is set in h.
func (h Hint) Has(other Hint) bool {
	return h&other == other
}

func (h Hint) String() string {
	var names []string
	if h.Has(HintReadIsSeekable) {
		names = append(names, "ReadIsSeekable")
	}
	if h.Has(HintReadIsStreamable) {
		names = append(names, "ReadIsStreamable")
	}
	if len(names) == 0 {
		return "Empty"
	}
	return strings.Join(names, " | ")
}

// AccessorMetadata describes an accessor: which service it talks to, where it
// is rooted and what it can do.
type AccessorMetadata struct {
	// Scheme is the backend type.
	Scheme Scheme

	// Root is the normalized root, always starting and ending with "/".
	Root string

	// Name is an optional display name such as the bucket.
	Name string

	// Capabilities lists the served operations. Layers may only add bits.
	Capabilities Capability

	// Hints describes reader behavior.
	Hints Hint
}

// Can reports whether the accessor declares every capability in c.
func (m AccessorMetadata) Can(c Capability) bool {
	return m.Capabilities.Has(c)
}
