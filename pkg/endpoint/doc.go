// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package endpoint maps the endpoint names clients connect to onto serial
// devices.
//
// A Registry is built once at startup, either directly with NewRegistry or
// from a YAML file with Load, and is read-only afterwards. Lookups are plain
// map reads, so the registry is shared between connections without locking.
//
// Configuration errors are reported as errors.ErrConfig and are meant to abort
// startup:
//
//	f, err := endpoint.Load("config.yaml")
//	if err != nil {
//		logger.Error("invalid endpoint file", slog.String("error", err.Error()))
//		os.Exit(1)
//	}
//	cfg, err := f.Registry.Resolve("dev1")
//
// Several endpoint names may point at the same device; exclusivity is enforced
// per device path by package lease, not per name.
package endpoint
