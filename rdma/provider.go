// File: rdma/provider.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package rdma

import (
	"github.com/momentics/easyrdma-go/internal/provider"
	"github.com/momentics/easyrdma-go/internal/provider/loopback"
)

// ProviderFactory constructs the provider-boundary collaborators an
// Engine needs per backend (spec §1's "external collaborator"): the
// active and passive halves of the connect handshake, memory
// registration, and address enumeration. A real hardware backend
// would implement this over verbs/CM; this module ships only the
// in-process loopback test double.
type ProviderFactory interface {
	NewConnector(local Address) provider.Connector
	NewListener(local Address) provider.Listener
	Registrar() provider.MemoryRegistrar
	Enumerator() provider.Enumerator
}

// LoopbackFactory implements ProviderFactory over a shared in-process
// fabric (internal/provider/loopback): every session an Engine built
// from the same LoopbackFactory can connect to every other, standing
// in for two machines on a real fabric.
//
// Grounded on internal/provider/loopback (itself grounded on the
// teacher's fake/ transport double).
type LoopbackFactory struct {
	fabric *loopback.Registry
	addrs  []string
}

// NewLoopbackFactory builds a fabric whose completion rings hold up
// to cqDepth entries per direction, and whose Enumerate always
// returns addrs regardless of the requested address family.
func NewLoopbackFactory(cqDepth int, addrs []string) *LoopbackFactory {
	return &LoopbackFactory{fabric: loopback.NewRegistry(cqDepth), addrs: addrs}
}

func (f *LoopbackFactory) NewConnector(_ Address) provider.Connector {
	return f.fabric.Connector()
}

func (f *LoopbackFactory) NewListener(local Address) provider.Listener {
	return f.fabric.Listen(local)
}

func (f *LoopbackFactory) Registrar() provider.MemoryRegistrar {
	return loopback.NewRegistrar()
}

func (f *LoopbackFactory) Enumerator() provider.Enumerator {
	return loopback.Enumerator{Addresses: f.addrs}
}
