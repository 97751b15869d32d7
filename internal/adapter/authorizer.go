package adapter

import (
	"fmt"

	"github.com/google/uuid"
)

// SignerSet authorizes privileged commands against a fixed operator set.
type SignerSet struct {
	signers map[uuid.UUID]struct{}
}

func NewSignerSet(signers ...uuid.UUID) *SignerSet {
	set := make(map[uuid.UUID]struct{}, len(signers))
	for _, s := range signers {
		set[s] = struct{}{}
	}
	return &SignerSet{signers: set}
}

func (s *SignerSet) RequireAuthorized(caller uuid.UUID) error {
	if _, ok := s.signers[caller]; !ok {
		return fmt.Errorf("%w: %s", ErrUnauthorized, caller)
	}
	return nil
}

// Add registers another operator.
func (s *SignerSet) Add(signer uuid.UUID) {
	s.signers[signer] = struct{}{}
}
