package identity

import "github.com/bosonnetwork/godht/kadid"

// Card is a self-describing profile object: a set of claims about its
// subject, self-signed by the subject (spec §3).
type Card struct {
	*ClaimObject
}

// NewCard starts a Card for subject, signed by the same identity.
func NewCard(subject kadid.Id) *Card {
	return &Card{ClaimObject: NewClaimObject(subject)}
}

// Credential is a set of claims asserted about a subject by an issuer
// other than the subject; Subject on the embedded ClaimObject is the
// issuer's key, since the issuer is the one who signs it (spec §3: "holder's
// Ed25519 key").
type Credential struct {
	*ClaimObject
	Holder kadid.Id
}

// NewCredential starts a Credential about holder, signed by issuer.
func NewCredential(issuer, holder kadid.Id) *Credential {
	return &Credential{
		ClaimObject: NewClaimObject(issuer),
		Holder:      holder,
	}
}

// Vouch is an attestation that one party vouches for another: a minimal
// Credential variant whose claims are conventionally just a relationship
// and context rather than arbitrary profile data (spec §3).
type Vouch struct {
	*ClaimObject
	Vouchee kadid.Id
}

// NewVouch starts a Vouch for vouchee, signed by voucher.
func NewVouch(voucher, vouchee kadid.Id) *Vouch {
	return &Vouch{
		ClaimObject: NewClaimObject(voucher),
		Vouchee:     vouchee,
	}
}
