// Package blssuite adapts github.com/onflow/flow-go/crypto's BLS12-381
// primitives to the LLMQ subsystem's needs: operator-key signing of DKG
// messages and commitments (spec.md §4.2), group-key aggregation (§4.4),
// and threshold-signature recovery by Lagrange interpolation (§4.5). This
// mirrors how the teacher's module/dkg.Controller and module/signature
// package treat crypto.PrivateKey/crypto.PublicKey/crypto.Signature as
// opaque values produced and consumed by the crypto package's own BLS
// aggregation and threshold-reconstruction entry points, rather than
// reaching into curve internals.
package blssuite

import (
	"fmt"
	"math/big"

	"github.com/onflow/flow-go/crypto"
	"github.com/onflow/flow-go/crypto/hash"
)

// Algorithm is the signing algorithm used throughout the LLMQ subsystem for
// operator keys, quorum public keys and signature shares.
const Algorithm = crypto.BLSBLS12381

// PublicKeyLength and SignatureLength mirror the wire-format field widths
// fixed in spec.md §6 (48B public keys, 96B signatures): the LLMQ wire
// format puts operator/quorum public keys in G1 and signatures in G2 (the
// "minimal public key size" BLS variant Dash Core uses), the opposite
// convention from flow-go/crypto's own default minimal-signature-size BLS
// parameterization. Callers treat crypto.PublicKey/crypto.Signature as
// opaque values from Encode(); these constants only describe the sizes of
// the fixed-width wire arrays in model/llmq/wire.go.
const (
	PublicKeyLength  = 48
	SignatureLength  = 96
	PrivateKeyLength = 32
)

// DomainHasher returns the message hasher used to sign/verify under a given
// domain-separation tag, so that operator-key single-signatures and
// threshold signature shares never collide across message kinds (spec.md
// §6 wire table: Contribution/Complaint/.../SignatureShare each carry their
// own signature field).
func DomainHasher(tag string) hash.Hasher {
	return crypto.NewExpandMsgXOFKMAC128(tag)
}

// GenerateOperatorKey derives a fresh BLS operator key from seed material
// (>= crypto.KeyGenSeedMinLen bytes).
func GenerateOperatorKey(seed []byte) (crypto.PrivateKey, error) {
	sk, err := crypto.GeneratePrivateKey(Algorithm, seed)
	if err != nil {
		return nil, fmt.Errorf("blssuite: could not generate operator key: %w", err)
	}
	return sk, nil
}

// DecodePublicKey parses a 48-byte compressed G2 public key.
func DecodePublicKey(raw []byte) (crypto.PublicKey, error) {
	pk, err := crypto.DecodePublicKey(Algorithm, raw)
	if err != nil {
		return nil, fmt.Errorf("blssuite: could not decode public key: %w", err)
	}
	return pk, nil
}

// EncodePublicKey serializes a public key to its compressed wire form.
func EncodePublicKey(pk crypto.PublicKey) ([]byte, error) {
	return pk.Encode(), nil
}

// Sign signs message under tag with sk, returning a 96-byte G1 signature.
func Sign(sk crypto.PrivateKey, tag string, message []byte) (crypto.Signature, error) {
	sig, err := sk.Sign(message, DomainHasher(tag))
	if err != nil {
		return nil, fmt.Errorf("blssuite: sign failed: %w", err)
	}
	return sig, nil
}

// Verify checks a single signature against a single public key.
func Verify(pk crypto.PublicKey, tag string, message []byte, sig crypto.Signature) (bool, error) {
	ok, err := pk.Verify(sig, message, DomainHasher(tag))
	if err != nil {
		return false, fmt.Errorf("blssuite: verify failed: %w", err)
	}
	return ok, nil
}

// AggregatePublicKeys sums per-member public key shares into the quorum's
// group public key (spec.md §4.2, "Compute the aggregated quorumPublicKey").
func AggregatePublicKeys(keys []crypto.PublicKey) (crypto.PublicKey, error) {
	if len(keys) == 0 {
		return nil, fmt.Errorf("blssuite: cannot aggregate zero public keys")
	}
	pk, err := crypto.AggregateBLSPublicKeys(keys)
	if err != nil {
		return nil, fmt.Errorf("blssuite: could not aggregate public keys: %w", err)
	}
	return pk, nil
}

// AggregateSignatures sums >= threshold premature-commitment signature
// shares into the final commitment's quorumSig (spec.md §4.2, "Finalize").
func AggregateSignatures(sigs []crypto.Signature) (crypto.Signature, error) {
	if len(sigs) == 0 {
		return nil, fmt.Errorf("blssuite: cannot aggregate zero signatures")
	}
	sig, err := crypto.AggregateBLSSignatures(sigs)
	if err != nil {
		return nil, fmt.Errorf("blssuite: could not aggregate signatures: %w", err)
	}
	return sig, nil
}

// VerifyAggregate verifies a signature produced by AggregateSignatures
// against the corresponding set of public keys, all over the same message
// (used to verify a FinalCommitment's quorumSig, and an islock's recovered
// signature against its quorum's public key).
func VerifyAggregate(keys []crypto.PublicKey, tag string, message []byte, sig crypto.Signature) (bool, error) {
	ok, err := crypto.VerifyBLSSignatureOneMessage(keys, sig, message, DomainHasher(tag))
	if err != nil {
		return false, fmt.Errorf("blssuite: aggregate verify failed: %w", err)
	}
	return ok, nil
}

// SignWithScalar signs message under tag using a raw secret-key scalar
// (a DKG member's combined threshold-signature-share secret, spec.md §4.2
// "Phase 4 -- Premature commit"), rather than a crypto.PrivateKey handed
// in by the caller.
func SignWithScalar(scalar *big.Int, tag string, message []byte) (crypto.Signature, error) {
	sk, err := crypto.DecodePrivateKey(Algorithm, fixed32(scalar))
	if err != nil {
		return nil, fmt.Errorf("blssuite: could not decode scalar as private key: %w", err)
	}
	return Sign(sk, tag, message)
}

// ScalarToPublicKeyShare derives the G2 public key G^scalar for a raw
// secret-key scalar, used both to turn a decrypted DKG secret share into a
// comparable public value (spec.md §4.2, "Own-share verification") and to
// lift a verification-vector coefficient's scalar form when needed.
func ScalarToPublicKeyShare(scalar *big.Int) (crypto.PublicKey, error) {
	sk, err := crypto.DecodePrivateKey(Algorithm, fixed32(scalar))
	if err != nil {
		return nil, fmt.Errorf("blssuite: could not derive public key share: %w", err)
	}
	return sk.PublicKey(), nil
}

func fixed32(s *big.Int) []byte {
	b := make([]byte, 32)
	sb := s.Bytes()
	copy(b[32-len(sb):], sb)
	return b
}

// ScalarMultiplyPublicKey computes scalar*pk by double-and-add, built
// entirely out of crypto.AggregateBLSPublicKeys (point addition): flow-go's
// crypto package deliberately doesn't expose a generic scalar-multiply
// primitive (only whole-protocol entry points), so this is the one
// admissible way to evaluate a Feldman verification-vector commitment
// without reaching into curve internals. scalar must be positive.
func ScalarMultiplyPublicKey(pk crypto.PublicKey, scalar *big.Int) (crypto.PublicKey, error) {
	if scalar.Sign() <= 0 {
		return nil, fmt.Errorf("blssuite: scalar must be positive, got %s", scalar)
	}
	acc := pk
	for i := scalar.BitLen() - 2; i >= 0; i-- {
		doubled, err := crypto.AggregateBLSPublicKeys([]crypto.PublicKey{acc, acc})
		if err != nil {
			return nil, fmt.Errorf("blssuite: point doubling failed: %w", err)
		}
		acc = doubled
		if scalar.Bit(i) == 1 {
			added, err := crypto.AggregateBLSPublicKeys([]crypto.PublicKey{acc, pk})
			if err != nil {
				return nil, fmt.Errorf("blssuite: point addition failed: %w", err)
			}
			acc = added
		}
	}
	return acc, nil
}

// EvaluateCommitment evaluates the Feldman verification-vector commitment
// Σ vvec[k]^(x^k) at a member's bls id x, the public-side counterpart of
// Polynomial.EvalAt (spec.md §4.2: "check BLS.derive(vvec_j, bls_id[myIdx])
// == sk_share_from_j * G").
func EvaluateCommitment(vvec []crypto.PublicKey, x int) (crypto.PublicKey, error) {
	if len(vvec) == 0 {
		return nil, fmt.Errorf("blssuite: empty verification vector")
	}
	xPow := big.NewInt(1)
	xb := big.NewInt(int64(x))
	terms := make([]crypto.PublicKey, len(vvec))
	for k, c := range vvec {
		term, err := ScalarMultiplyPublicKey(c, new(big.Int).Set(xPow))
		if err != nil {
			return nil, fmt.Errorf("blssuite: could not evaluate coefficient %d: %w", k, err)
		}
		terms[k] = term
		xPow.Mul(xPow, xb)
	}
	return crypto.AggregateBLSPublicKeys(terms)
}

// PublicKeysEqual compares two public keys by their compressed encoding,
// the only equality check crypto.PublicKey exposes generically.
func PublicKeysEqual(a, b crypto.PublicKey) bool {
	ae := a.Encode()
	be := b.Encode()
	return string(ae) == string(be)
}

// Share is one member's threshold signature share, indexed by the member's
// 1-based bls id (spec.md §4.5, "Lagrange interpolation at bls_id = 0").
type Share struct {
	Index int
	Sig   crypto.Signature
}

// ReconstructThreshold recovers the group signature from >= threshold
// shares by Lagrange interpolation at x=0 (spec.md §4.5, "Aggregation").
// size is the quorum's total member count; it bounds the valid index range.
func ReconstructThreshold(size, threshold int, shares []Share) (crypto.Signature, error) {
	if len(shares) < threshold {
		return nil, fmt.Errorf("blssuite: %d shares is below threshold %d", len(shares), threshold)
	}
	indices := make([]int, len(shares))
	sigs := make([]crypto.Signature, len(shares))
	for i, s := range shares {
		if s.Index < 1 || s.Index > size {
			return nil, fmt.Errorf("blssuite: share index %d out of range [1,%d]", s.Index, size)
		}
		indices[i] = s.Index
		sigs[i] = s.Sig
	}
	sig, err := crypto.BLSReconstructThresholdSignature(size, threshold, sigs, indices)
	if err != nil {
		return nil, fmt.Errorf("blssuite: threshold reconstruction failed: %w", err)
	}
	return sig, nil
}

// BatchVerify verifies N (pubkey, message, signature) triples, one per
// source, returning a per-index result so the caller (module/llmq/batch)
// can identify individual offenders on a batch miss (spec.md §4.6, §9
// "Batched BLS verification"). crypto.BatchVerifyBLSSignaturesOneMessage
// is used when every triple shares a message (a share-exchange bucket
// grouped by signHash); mixed-message batches fall back to per-triple
// Verify.
func BatchVerify(keys []crypto.PublicKey, tag string, messages [][]byte, sigs []crypto.Signature) ([]bool, error) {
	if len(keys) != len(messages) || len(keys) != len(sigs) {
		return nil, fmt.Errorf("blssuite: mismatched batch lengths: keys=%d messages=%d sigs=%d", len(keys), len(messages), len(sigs))
	}
	sameMessage := true
	for i := 1; i < len(messages); i++ {
		if string(messages[i]) != string(messages[0]) {
			sameMessage = false
			break
		}
	}
	if sameMessage && len(messages) > 0 {
		results, err := crypto.BatchVerifyBLSSignaturesOneMessage(keys, sigs, messages[0], DomainHasher(tag))
		if err == nil {
			return results, nil
		}
		// fall through to per-triple verification if the batch primitive
		// itself failed (e.g. malformed signature encoding).
	}
	results := make([]bool, len(keys))
	for i := range keys {
		ok, err := Verify(keys[i], tag, messages[i], sigs[i])
		if err != nil {
			results[i] = false
			continue
		}
		results[i] = ok
	}
	return results, nil
}
