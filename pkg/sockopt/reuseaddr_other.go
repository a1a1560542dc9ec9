// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package sockopt

import "syscall"

// Address reuse is a no-op on platforms without SO_REUSEADDR semantics
// worth relying on.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
