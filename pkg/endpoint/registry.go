// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"sort"
	"strings"

	"github.com/absmach/wsserial/pkg/errors"
)

// Config describes one bridgeable serial device.
type Config struct {
	// Name is the final path segment clients connect to.
	Name string

	// Device is the OS device path, e.g. /dev/ttyUSB0 or COM3.
	Device string

	// BaudRate is the line speed the device is opened with.
	BaudRate int
}

// Registry maps endpoint names to their serial configuration.
// It is immutable after construction and safe for concurrent reads.
type Registry struct {
	endpoints map[string]Config
}

// NewRegistry validates the given endpoints and builds a registry.
// Duplicate names, empty names or devices, and non-positive baud rates
// are reported as errors.ErrConfig.
func NewRegistry(cfgs []Config) (*Registry, error) {
	if len(cfgs) == 0 {
		return nil, errors.Wrapf(errors.ErrConfig, nil, "no endpoints configured")
	}

	endpoints := make(map[string]Config, len(cfgs))
	for _, c := range cfgs {
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, ok := endpoints[c.Name]; ok {
			return nil, errors.Wrapf(errors.ErrConfig, nil, "duplicate endpoint %q", c.Name)
		}
		endpoints[c.Name] = c
	}

	return &Registry{endpoints: endpoints}, nil
}

func (c Config) validate() error {
	switch {
	case c.Name == "":
		return errors.Wrapf(errors.ErrConfig, nil, "endpoint name is empty")
	case strings.Contains(c.Name, "/"):
		return errors.Wrapf(errors.ErrConfig, nil, "endpoint %q: name must be a single path segment", c.Name)
	case c.Device == "":
		return errors.Wrapf(errors.ErrConfig, nil, "endpoint %q: port is empty", c.Name)
	case c.BaudRate <= 0:
		return errors.Wrapf(errors.ErrConfig, nil, "endpoint %q: baud_rate must be positive, got %d", c.Name, c.BaudRate)
	}
	return nil
}

// Resolve returns the configuration for name, or errors.ErrUnknownEndpoint.
func (r *Registry) Resolve(name string) (Config, error) {
	c, ok := r.endpoints[name]
	if !ok {
		return Config{}, errors.ErrUnknownEndpoint
	}
	return c, nil
}

// Names returns the configured endpoint names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Devices returns the distinct device paths, sorted.
func (r *Registry) Devices() []string {
	seen := make(map[string]struct{}, len(r.endpoints))
	devices := make([]string, 0, len(r.endpoints))
	for _, c := range r.endpoints {
		if _, ok := seen[c.Device]; ok {
			continue
		}
		seen[c.Device] = struct{}{}
		devices = append(devices, c.Device)
	}
	sort.Strings(devices)
	return devices
}

// Len returns the number of configured endpoints.
func (r *Registry) Len() int {
	return len(r.endpoints)
}
