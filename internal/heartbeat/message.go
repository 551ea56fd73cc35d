package heartbeat

import (
	"time"

	"github.com/jonboulle/clockwork"
)

const DefaultMarker = "PING?"

// Composer builds the ping payload: a fixed marker followed by the current
// UTC time.
type Composer struct {
	clock  clockwork.Clock
	marker string
}

func NewComposer(clock clockwork.Clock, marker string) *Composer {
	if marker == "" {
		marker = DefaultMarker
	}

	return &Composer{
		clock,
		marker,
	}
}

func (c *Composer) Compose() []byte {
	return []byte(c.marker + " " + c.clock.Now().UTC().Format(time.RFC3339Nano))
}
