// Package vss implements the Feldman verifiable-secret-sharing polynomial
// arithmetic underlying the DKG session (spec.md §4.2). No library in the
// retrieval pack exposes raw Feldman-VSS coefficient/share arithmetic as a
// directly callable primitive (the teacher's crypto.DKGState hides it
// entirely behind a session black box), so this layer is deliberately
// built on the standard library's math/big, operating over the scalar
// field of BLS12-381 -- see DESIGN.md for the full justification. Actual
// BLS point operations (signing, verification, aggregation) are left to
// crypto/blssuite, which wraps github.com/onflow/flow-go/crypto.
package vss

import (
	"crypto/rand"
	"math/big"
)

// scalarFieldOrder is the order r of the BLS12-381 scalar field.
var scalarFieldOrder, _ = new(big.Int).SetString(
	"52435875175126190479447740508185965837690552500527637822603658699938581184513", 10)

// Polynomial is a degree-(threshold-1) polynomial over the BLS12-381 scalar
// field, used as one member's secret-sharing contribution.
type Polynomial struct {
	coeffs []*big.Int // coeffs[0] is the member's own secret
}

// NewRandomPolynomial samples a random polynomial of the given degree
// (spec.md §4.2, "Pick random verification vector of length threshold").
func NewRandomPolynomial(degree int) (*Polynomial, error) {
	coeffs := make([]*big.Int, degree+1)
	for i := range coeffs {
		c, err := rand.Int(rand.Reader, scalarFieldOrder)
		if err != nil {
			return nil, err
		}
		coeffs[i] = c
	}
	return &Polynomial{coeffs: coeffs}, nil
}

// Degree returns the polynomial's degree (threshold - 1).
func (p *Polynomial) Degree() int {
	return len(p.coeffs) - 1
}

// Secret returns the constant term, i.e. this member's secret contribution
// to the group key.
func (p *Polynomial) Secret() *big.Int {
	return new(big.Int).Set(p.coeffs[0])
}

// EvalAt evaluates the polynomial at a nonzero scalar x (conventionally a
// member's 1-based bls id), returning the secret-key contribution sk_j
// described in spec.md §4.2.
func (p *Polynomial) EvalAt(x int) *big.Int {
	xb := big.NewInt(int64(x))
	result := new(big.Int)
	power := big.NewInt(1)
	for _, c := range p.coeffs {
		term := new(big.Int).Mul(c, power)
		result.Add(result, term)
		result.Mod(result, scalarFieldOrder)
		power.Mul(power, xb)
		power.Mod(power, scalarFieldOrder)
	}
	return result
}

// CoefficientBytes returns the big-endian, 32-byte-padded encoding of each
// coefficient, the scalar inputs to the verification-vector commitments
// (each coefficient is separately lifted to a G2 point by crypto/blssuite).
func (p *Polynomial) CoefficientBytes() [][]byte {
	out := make([][]byte, len(p.coeffs))
	for i, c := range p.coeffs {
		out[i] = scalarToBytes(c)
	}
	return out
}

func scalarToBytes(s *big.Int) []byte {
	b := make([]byte, 32)
	sb := s.Bytes()
	copy(b[32-len(sb):], sb)
	return b
}

// ScalarFromBytes parses a big-endian 32-byte scalar.
func ScalarFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// LagrangeCoefficientsAtZero computes the Lagrange basis coefficients for
// interpolating a polynomial at x=0 given sample points `indices` (the
// members' bls ids), per spec.md §4.5 ("compute the recovered signature by
// Lagrange interpolation at bls_id = 0").
func LagrangeCoefficientsAtZero(indices []int) []*big.Int {
	coeffs := make([]*big.Int, len(indices))
	mod := scalarFieldOrder
	for i, xi := range indices {
		num := big.NewInt(1)
		den := big.NewInt(1)
		xiB := big.NewInt(int64(xi))
		for j, xj := range indices {
			if i == j {
				continue
			}
			xjB := big.NewInt(int64(xj))
			// num *= (0 - xj) = -xj
			num.Mul(num, new(big.Int).Neg(xjB))
			num.Mod(num, mod)
			// den *= (xi - xj)
			diff := new(big.Int).Sub(xiB, xjB)
			den.Mul(den, diff)
			den.Mod(den, mod)
		}
		den.Mod(den, mod)
		if den.Sign() < 0 {
			den.Add(den, mod)
		}
		denInv := new(big.Int).ModInverse(den, mod)
		c := new(big.Int).Mul(num, denInv)
		c.Mod(c, mod)
		if c.Sign() < 0 {
			c.Add(c, mod)
		}
		coeffs[i] = c
	}
	return coeffs
}

// ScalarFieldOrder exposes the field modulus for callers that need to
// reduce or validate raw scalars (e.g. crypto/blssuite).
func ScalarFieldOrder() *big.Int {
	return new(big.Int).Set(scalarFieldOrder)
}
