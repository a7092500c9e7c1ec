// Package media hands out camera and microphone grants for video calls.
package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/bnema/homiez-cli/internal/ports"
)

var ErrNoDevices = errors.New("no capture devices available")

var _ ports.MediaDevices = (*Devices)(nil)

// Devices grants exclusive use of the local capture devices. A second
// Acquire waits until the first grant is released or ctx is done.
type Devices struct {
	// Pattern lists the device nodes that must exist when Required is set.
	Pattern  string
	Required bool

	once        sync.Once
	slot        chan struct{}
	outstanding atomic.Int32
}

func (d *Devices) init() {
	d.once.Do(func() { d.slot = make(chan struct{}, 1) })
}

func (d *Devices) Acquire(ctx context.Context) (ports.MediaGrant, error) {
	d.init()
	if d.Required {
		pattern := d.Pattern
		if pattern == "" {
			pattern = "/dev/video*"
		}
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("probe capture devices: %w", err)
		}
		if len(matches) == 0 {
			return nil, ErrNoDevices
		}
	}

	select {
	case d.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire capture devices: %w", ctx.Err())
	}
	d.outstanding.Add(1)
	return &Grant{devices: d}, nil
}

// Outstanding reports how many grants have not been released.
func (d *Devices) Outstanding() int {
	return int(d.outstanding.Load())
}

type Grant struct {
	devices *Devices
	once    sync.Once
}

// Release gives the devices back. Calling it again does nothing.
func (g *Grant) Release() {
	g.once.Do(func() {
		g.devices.outstanding.Add(-1)
		<-g.devices.slot
	})
}
