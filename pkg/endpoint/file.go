// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"bytes"
	"io"
	"os"

	"github.com/absmach/wsserial/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the file omits the listener settings.
const (
	DefaultBindAddress = "0.0.0.0"
	DefaultBindPort    = 9001
)

// File is the on-disk endpoint configuration.
//
//	bind_address: 0.0.0.0
//	bind_port: 9001
//	endpoints:
//	  dev1:
//	    port: /dev/ttyUSB0
//	    baud_rate: 9600
type File struct {
	BindAddress string                  `yaml:"bind_address"`
	BindPort    int                     `yaml:"bind_port"`
	Endpoints   map[string]SerialConfig `yaml:"endpoints"`

	// Registry is built from Endpoints by Parse.
	Registry *Registry `yaml:"-"`
}

// SerialConfig is a single entry under endpoints.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// Load reads and parses the endpoint file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrConfig, err, "read %s", path)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	return f, nil
}

// Parse decodes an endpoint file. Unknown keys and duplicate endpoint names
// are rejected; a partially valid file never yields a registry.
func Parse(data []byte) (*File, error) {
	f := File{
		BindAddress: DefaultBindAddress,
		BindPort:    DefaultBindPort,
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, errors.Wrapf(errors.ErrConfig, err, "parse YAML")
	}

	if f.BindPort <= 0 || f.BindPort > 65535 {
		return nil, errors.Wrapf(errors.ErrConfig, nil, "bind_port %d out of range", f.BindPort)
	}

	cfgs := make([]Config, 0, len(f.Endpoints))
	for name, sc := range f.Endpoints {
		cfgs = append(cfgs, Config{Name: name, Device: sc.Port, BaudRate: sc.BaudRate})
	}

	reg, err := NewRegistry(cfgs)
	if err != nil {
		return nil, err
	}
	f.Registry = reg

	return &f, nil
}
