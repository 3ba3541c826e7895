// File: internal/provider/loopback/enumerator.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package loopback

import "github.com/momentics/easyrdma-go/internal/provider"

// Enumerator returns a fixed, caller-supplied address list regardless
// of familyFilter, standing in for the real provider's device/address
// enumeration (spec §6 enumerate).
type Enumerator struct {
	Addresses []string
}

func (e Enumerator) Enumerate(familyFilter int) ([]string, error) {
	out := make([]string, len(e.Addresses))
	copy(out, e.Addresses)
	return out, nil
}

var _ provider.Enumerator = Enumerator{}
