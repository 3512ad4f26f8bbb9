// Package data ships the two reference Datum backends named in §4.1: an
// in-memory variant and a filesystem variant. Neither participates in the
// core's interfaces as anything but a datum.Backend/datum.Datum
// implementation — the engine and dag packages never import this package.
package data

import (
	"github.com/swarmguard/workflow-engine/datum"
)

// memoryBackend validates trivially (any non-nil pointer is well-formed),
// verifies by checking the held reference is non-nil, and clears by
// dropping it.
type memoryBackend struct{}

func (memoryBackend) ValidateFormat(pointer any) bool {
	return pointer != nil
}

func (memoryBackend) VerifyAvailable(pointer any) bool {
	return pointer != nil
}

func (memoryBackend) ClearLogic(any) {}

func (memoryBackend) Quickhash(pointer any) string {
	return hashOf(pointer)
}

// NewMemory returns an EMPTY in-memory Datum: validation is trivial, verify
// checks the reference is non-nil, clear drops it.
func NewMemory() *datum.Base {
	return datum.NewBase(memoryBackend{})
}
