// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package serialtest provides in-memory serial ports for tests.
package serialtest

import (
	"sync"
	"time"

	"github.com/absmach/wsserial/pkg/serial"
)

// PollInterval is how long a fake Read waits for data before returning (0, nil).
const PollInterval = 10 * time.Millisecond

// Port is an in-memory serial device. Bytes passed to Emit are returned by
// Read one Emit per Read (when the buffer is large enough). Writes are
// recorded and, if Respond is set, its result is emitted back.
type Port struct {
	// Respond, if set, is called for every write; a non-empty result is
	// emitted as device output.
	Respond func(written []byte) []byte

	mu         sync.Mutex
	writes     [][]byte
	pending    []byte
	readErr    error
	writeErr   error
	closeCalls int

	rx        chan []byte
	written   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

var _ serial.Port = (*Port)(nil)

// NewPort creates an idle fake port.
func NewPort() *Port {
	return &Port{
		rx:      make(chan []byte, 256),
		written: make(chan []byte, 256),
		closed:  make(chan struct{}),
	}
}

// Emit queues b as device output.
func (p *Port) Emit(b []byte) {
	select {
	case <-p.closed:
	case p.rx <- append([]byte(nil), b...):
	}
}

// FailRead makes the next Read return err.
func (p *Port) FailRead(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readErr = err
}

// FailWrite makes subsequent Writes return err.
func (p *Port) FailWrite(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// Read implements serial.Port.
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.pending) > 0 {
		n := copy(b, p.pending)
		p.pending = p.pending[n:]
		p.mu.Unlock()
		return n, nil
	}
	if err := p.readErr; err != nil {
		p.mu.Unlock()
		return 0, err
	}
	p.mu.Unlock()

	timer := time.NewTimer(PollInterval)
	defer timer.Stop()

	select {
	case <-p.closed:
		return 0, serial.ErrClosed
	case data := <-p.rx:
		n := copy(b, data)
		if n < len(data) {
			p.mu.Lock()
			p.pending = append(p.pending, data[n:]...)
			p.mu.Unlock()
		}
		return n, nil
	case <-timer.C:
		return 0, nil
	}
}

// Write implements serial.Port.
func (p *Port) Write(b []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, serial.ErrClosed
	default:
	}

	p.mu.Lock()
	if err := p.writeErr; err != nil {
		p.mu.Unlock()
		return 0, err
	}
	data := append([]byte(nil), b...)
	p.writes = append(p.writes, data)
	respond := p.Respond
	p.mu.Unlock()

	select {
	case p.written <- data:
	default:
	}

	if respond != nil {
		if out := respond(data); len(out) > 0 {
			p.Emit(out)
		}
	}
	return len(b), nil
}

// Close implements serial.Port.
func (p *Port) Close() error {
	p.mu.Lock()
	p.closeCalls++
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

// Writes returns a copy of every write so far, one element per Write call.
func (p *Port) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.writes))
	copy(out, p.writes)
	return out
}

// Written delivers each write as it happens.
func (p *Port) Written() <-chan []byte {
	return p.written
}

// Done is closed when the port is closed.
func (p *Port) Done() <-chan struct{} {
	return p.closed
}

// CloseCalls returns how many times Close was called.
func (p *Port) CloseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeCalls
}

// Opener hands out fake ports and records open calls.
type Opener struct {
	// NewPort, if set, builds the port for each successful open.
	NewPort func(device string) *Port

	mu     sync.Mutex
	ports  map[string]*Port
	bauds  map[string]int
	opens  map[string]int
	fail   map[string]error
	notify chan string
}

var _ serial.Opener = (*Opener)(nil)

// NewOpener creates an opener where every device opens successfully.
func NewOpener() *Opener {
	return &Opener{
		ports:  make(map[string]*Port),
		bauds:  make(map[string]int),
		opens:  make(map[string]int),
		fail:   make(map[string]error),
		notify: make(chan string, 64),
	}
}

// Fail makes opens of device return err. A nil err clears the failure.
func (o *Opener) Fail(device string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		delete(o.fail, device)
		return
	}
	o.fail[device] = err
}

// Open implements serial.Opener.
func (o *Opener) Open(device string, baudRate int) (serial.Port, error) {
	o.mu.Lock()
	o.opens[device]++
	if err, ok := o.fail[device]; ok {
		o.mu.Unlock()
		return nil, err
	}
	var p *Port
	if o.NewPort != nil {
		p = o.NewPort(device)
	} else {
		p = NewPort()
	}
	o.ports[device] = p
	o.bauds[device] = baudRate
	o.mu.Unlock()

	select {
	case o.notify <- device:
	default:
	}
	return p, nil
}

// Port returns the most recently opened port for device, or nil.
func (o *Opener) Port(device string) *Port {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ports[device]
}

// Opens returns how many times device was opened, including failed opens.
func (o *Opener) Opens(device string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[device]
}

// TotalOpens returns the number of open attempts across all devices.
func (o *Opener) TotalOpens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	var n int
	for _, c := range o.opens {
		n += c
	}
	return n
}

// Baud returns the baud rate device was last opened with.
func (o *Opener) Baud(device string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.bauds[device]
}

// Opened delivers the device path of each successful open.
func (o *Opener) Opened() <-chan string {
	return o.notify
}

// Echo returns a Respond func that writes every input back.
func Echo() func([]byte) []byte {
	return func(b []byte) []byte { return b }
}
