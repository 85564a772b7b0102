package processor

// DefaultLogLimit is the default program log size in bytes.
const DefaultLogLimit = 10_000

// LogCollector gathers program log messages up to a byte limit. Once the
// limit is reached a single "Log truncated" entry is appended and later
// messages are dropped.
type LogCollector struct {
	messages  []string
	bytes     int
	limit     int
	truncated bool
}

// NewLogCollector creates a collector bounded to limit bytes.
func NewLogCollector(limit int) *LogCollector {
	return &LogCollector{limit: limit}
}

// Log appends msg.
func (c *LogCollector) Log(msg string) {
	if c.truncated {
		return
	}
	if c.bytes+len(msg) > c.limit {
		c.messages = append(c.messages, "Log truncated")
		c.truncated = true
		return
	}
	c.bytes += len(msg)
	c.messages = append(c.messages, msg)
}

// Messages returns the collected messages.
func (c *LogCollector) Messages() []string {
	return c.messages
}

// Truncated reports whether messages were dropped.
func (c *LogCollector) Truncated() bool {
	return c.truncated
}
