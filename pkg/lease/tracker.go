// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package lease enforces that at most one session uses a serial device at a
// time.
//
// The Tracker is a single table keyed by device path and guarded by one
// mutex, so Acquire is a check-and-set. A busy device is reported to the
// caller immediately; requests are never queued. Releasing a lease that is not
// outstanding panics, because it can only happen through a lifecycle bug.
package lease

import (
	"fmt"
	"sync"
	"time"

	"github.com/absmach/wsserial/pkg/errors"
)

// Lease is the exclusivity token for one device path.
type Lease struct {
	device  string
	holder  string
	granted time.Time
}

// Device returns the leased device path.
func (l *Lease) Device() string {
	return l.device
}

// Holder returns the identifier the lease was acquired for.
func (l *Lease) Holder() string {
	return l.holder
}

// Granted returns when the lease was acquired.
func (l *Lease) Granted() time.Time {
	return l.granted
}

// Tracker hands out leases keyed by device path.
type Tracker struct {
	mu     sync.Mutex
	leases map[string]*Lease
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		leases: make(map[string]*Lease),
	}
}

// Acquire grants the lease for device to holder, or returns
// errors.ErrPortBusy if another lease on device is outstanding.
func (t *Tracker) Acquire(device, holder string) (*Lease, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.leases[device]; ok {
		return nil, errors.Wrapf(errors.ErrPortBusy, nil, "%s held by %s", device, cur.holder)
	}

	l := &Lease{
		device:  device,
		holder:  holder,
		granted: time.Now(),
	}
	t.leases[device] = l
	return l, nil
}

// Release returns the lease. It panics if l is nil, was never granted by
// this tracker, or has already been released.
func (t *Tracker) Release(l *Lease) {
	if l == nil {
		panic("lease: release of nil lease")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.leases[l.device]; !ok || cur != l {
		panic(fmt.Sprintf("lease: release of %s by %s which is not outstanding", l.device, l.holder))
	}
	delete(t.leases, l.device)
}

// InUse reports whether device is currently leased.
func (t *Tracker) InUse(device string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.leases[device]
	return ok
}

// Held returns the number of outstanding leases.
func (t *Tracker) Held() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.leases)
}
