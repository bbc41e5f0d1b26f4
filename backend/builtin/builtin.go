// Package builtin assembles a backend registry with every bundled format.
package builtin

import (
	"github.com/pithecene-io/sluice/backend"
	"github.com/pithecene-io/sluice/backend/framed"
	"github.com/pithecene-io/sluice/backend/memory"
	"github.com/pithecene-io/sluice/backend/pcapfile"
)

// NewRegistry returns a registry with the mem, pcapfile and framed schemes.
func NewRegistry() *backend.Registry {
	reg := backend.NewRegistry()
	memory.Register(reg)
	pcapfile.Register(reg)
	framed.Register(reg)
	return reg
}
