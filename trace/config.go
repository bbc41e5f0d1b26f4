package trace

import (
	"errors"
	"runtime"
	"time"

	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/metrics"
	"github.com/pithecene-io/sluice/packet"
)

// DefaultPauseTimeout is how long Pause waits for a worker before
// logging that it is slow. Pause keeps waiting after the warning.
const DefaultPauseTimeout = time.Second

// Config configures a trace.
type Config struct {
	// URI selects the packet source, e.g. "mem:100" or "pcapfile:in.pcap".
	// Ignored when Source is set.
	URI string

	// Source overrides URI resolution.
	Source backend.Source

	// Registry resolves URI. Defaults to every bundled backend.
	Registry *backend.Registry

	// Workers is the number of worker goroutines. Zero means GOMAXPROCS.
	Workers int

	// BufferSize is the capacity of each read buffer. Zero means
	// packet.DefaultBufferSize. Longer frames are truncated.
	BufferSize int

	// TickInterval, when positive, posts an interval tick to every
	// worker and the reporter at this period.
	TickInterval time.Duration

	// TickCount, when positive, makes each worker post a count tick
	// after every TickCount packets it processes.
	TickCount uint64

	// PauseTimeout is the liveness-warning period while Pause waits
	// for workers. Zero means DefaultPauseTimeout.
	PauseTimeout time.Duration

	// Logger is optional. A nil logger discards output.
	Logger *log.Logger

	// Collector is optional. A nil collector records nothing.
	Collector *metrics.Collector
}

// ErrNoSource is returned when neither URI nor Source is set.
var ErrNoSource = errors.New("trace needs a URI or a Source")

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.BufferSize <= 0 {
		c.BufferSize = packet.DefaultBufferSize
	}
	if c.PauseTimeout <= 0 {
		c.PauseTimeout = DefaultPauseTimeout
	}
}
