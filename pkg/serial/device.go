// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package serial

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// DefaultPollInterval bounds how long a device read blocks before returning
// control to the caller.
const DefaultPollInterval = 100 * time.Millisecond

type deviceOpener struct {
	pollInterval time.Duration
}

// NewOpener returns an Opener for real devices. Reads return (0, nil) after
// pollInterval without data, so a session can notice cancellation while the
// device is idle. The interval does not end the session.
func NewOpener(pollInterval time.Duration) Opener {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &deviceOpener{pollInterval: pollInterval}
}

// Open opens device as 8N1 at baudRate.
func (o *deviceOpener) Open(device string, baudRate int) (Port, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s at %d baud: %w", device, baudRate, err)
	}

	if err := port.SetReadTimeout(o.pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %s: %w", device, err)
	}

	return port, nil
}

// ListPorts returns the serial ports the OS currently reports.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
