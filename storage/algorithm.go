package storage

import "github.com/bosonnetwork/godht/dhterrors"

// DecidePutValue implements spec §4.9 steps 1-5's decision logic, shared by
// every backend so the monotonicity/ownership rules cannot drift between
// memstore and sqlstore. Returns storeNew=true when the caller should
// upsert the new value; storeNew=false with a nil error means "silently
// keep the existing entry" (step 5).
func DecidePutValue(existing *ValueEntry, newIsMutable bool, newSequenceNumber uint32, newOwnsPrivateKey bool, expectedSequenceNumber *uint32) (storeNew bool, err error) {
	if existing == nil {
		return true, nil
	}
	existingMutable := !existing.Value.IsImmutable()
	if existingMutable != newIsMutable {
		return false, dhterrors.New(dhterrors.KindImmutableSubstitutionFail, "cannot replace a mutable value with an immutable one or vice versa")
	}
	if newSequenceNumber < existing.Value.SequenceNumber {
		return false, dhterrors.New(dhterrors.KindSequenceNotMonotonic, "new sequence number is behind the stored one")
	}
	if expectedSequenceNumber != nil && existing.Value.SequenceNumber > *expectedSequenceNumber {
		return false, dhterrors.New(dhterrors.KindSequenceNotExpected, "stored sequence number has advanced past the caller's expectation")
	}
	if existing.OwnsPrivateKey && !newOwnsPrivateKey {
		return false, nil
	}
	return true, nil
}

// DecidePutPeer mirrors DecidePutValue for peer announcements keyed by
// (id, fingerprint); peers have no immutable variant so there is no
// substitution-fail case (spec §4.10, current/newer schema: sequence
// numbers are gated the same way values are).
func DecidePutPeer(existing *PeerEntry, newSequenceNumber uint32, newOwnsPrivateKey bool, expectedSequenceNumber *uint32) (storeNew bool, err error) {
	if existing == nil {
		return true, nil
	}
	if newSequenceNumber < existing.Peer.SequenceNumber {
		return false, dhterrors.New(dhterrors.KindSequenceNotMonotonic, "new sequence number is behind the stored one")
	}
	if expectedSequenceNumber != nil && existing.Peer.SequenceNumber > *expectedSequenceNumber {
		return false, dhterrors.New(dhterrors.KindSequenceNotExpected, "stored sequence number has advanced past the caller's expectation")
	}
	if existing.OwnsPrivateKey && !newOwnsPrivateKey {
		return false, nil
	}
	return true, nil
}
