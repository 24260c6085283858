// Package sigcodec converts DER-encoded ECDSA signatures produced by a
// hardware signing module into Ethereum's 65-byte [R || S || V] encoding,
// normalizing malleable forms and recovering the signer.
package sigcodec

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// ErrMalformedDER indicates the input did not parse as a strict DER
	// ECDSA signature.
	ErrMalformedDER = errors.New("malformed DER signature")

	// ErrMalleableSignature indicates both recovery ids produced a valid
	// public key matching the expected signer. An ambiguous recoverable
	// signature is never accepted.
	ErrMalleableSignature = errors.New("malleable signature: both recovery ids recover the expected signer")

	// ErrRecoveryFailed indicates neither recovery id recovered the
	// expected signer.
	ErrRecoveryFailed = errors.New("signature does not recover the expected signer")
)

// secp256k1 group order and its half, for low-S normalization.
var (
	curveN     = crypto.S256().Params().N
	curveHalfN = new(big.Int).Rsh(curveN, 1)
)

// maxComponentLen bounds each DER integer: 32 significant bytes plus an
// optional leading zero.
const maxComponentLen = 33

// sigToPub is indirected so tests can exercise the dual-recovery policy.
var sigToPub = crypto.SigToPub

// EthereumSignature converts a DER signature over digest into the 65-byte
// [R || S || V] form with V in {27, 28}, verifying that it recovers the
// expected signer address.
//
// S is normalized to the lower half of the curve order first. Both recovery
// ids are then tried against the digest: exactly one must recover expected,
// and if both do the signature is rejected outright.
func EthereumSignature(der, digest []byte, expected common.Address) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}

	r, s, err := ParseDER(der)
	if err != nil {
		return nil, err
	}
	s = normalizeS(s)

	if r.Sign() <= 0 || s.Sign() <= 0 || r.Cmp(curveN) >= 0 || s.Cmp(curveN) >= 0 {
		return nil, fmt.Errorf("%w: component out of range", ErrMalformedDER)
	}

	sig := make([]byte, 65)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:64])

	matched := -1
	for _, recID := range []byte{0, 1} {
		sig[64] = recID
		pub, err := sigToPub(digest, sig)
		if err != nil {
			continue
		}
		if crypto.PubkeyToAddress(*pub) != expected {
			continue
		}
		if matched >= 0 {
			return nil, ErrMalleableSignature
		}
		matched = int(recID)
	}
	if matched < 0 {
		return nil, ErrRecoveryFailed
	}

	sig[64] = byte(matched) + 27
	return sig, nil
}

// ParseDER parses a strict DER ECDSA signature into its R and S components.
// Every offset is bounds-checked before it is read; truncated or padded
// input fails rather than reading past the buffer.
func ParseDER(der []byte) (r, s *big.Int, err error) {
	p := &derParser{buf: der}

	if tag, err := p.readByte(); err != nil {
		return nil, nil, err
	} else if tag != 0x30 {
		return nil, nil, fmt.Errorf("%w: expected sequence tag 0x30, got 0x%02x", ErrMalformedDER, tag)
	}

	seqLen, err := p.readLength()
	if err != nil {
		return nil, nil, err
	}
	if seqLen != p.remaining() {
		return nil, nil, fmt.Errorf("%w: sequence length %d does not match %d remaining bytes",
			ErrMalformedDER, seqLen, p.remaining())
	}

	r, err = p.readInteger()
	if err != nil {
		return nil, nil, err
	}
	s, err = p.readInteger()
	if err != nil {
		return nil, nil, err
	}
	if p.remaining() != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedDER, p.remaining())
	}
	return r, s, nil
}

type derParser struct {
	buf []byte
	pos int
}

func (p *derParser) remaining() int {
	return len(p.buf) - p.pos
}

func (p *derParser) readByte() (byte, error) {
	if p.remaining() < 1 {
		return 0, fmt.Errorf("%w: truncated", ErrMalformedDER)
	}
	b := p.buf[p.pos]
	p.pos++
	return b, nil
}

// readLength decodes a DER length octet, accepting the short form and the
// long forms 0x81/0x82 that a 71-byte signature can legitimately need.
func (p *derParser) readLength() (int, error) {
	first, err := p.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case first < 0x80:
		return int(first), nil
	case first == 0x81:
		b, err := p.readByte()
		if err != nil {
			return 0, err
		}
		if b < 0x80 {
			return 0, fmt.Errorf("%w: non-minimal long-form length", ErrMalformedDER)
		}
		return int(b), nil
	case first == 0x82:
		hi, err := p.readByte()
		if err != nil {
			return 0, err
		}
		lo, err := p.readByte()
		if err != nil {
			return 0, err
		}
		n := int(hi)<<8 | int(lo)
		if n < 0x100 {
			return 0, fmt.Errorf("%w: non-minimal long-form length", ErrMalformedDER)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: unsupported length encoding 0x%02x", ErrMalformedDER, first)
	}
}

func (p *derParser) readInteger() (*big.Int, error) {
	tag, err := p.readByte()
	if err != nil {
		return nil, err
	}
	if tag != 0x02 {
		return nil, fmt.Errorf("%w: expected integer tag 0x02, got 0x%02x", ErrMalformedDER, tag)
	}
	n, err := p.readLength()
	if err != nil {
		return nil, err
	}
	if n == 0 || n > maxComponentLen {
		return nil, fmt.Errorf("%w: integer length %d out of bounds", ErrMalformedDER, n)
	}
	if n > p.remaining() {
		return nil, fmt.Errorf("%w: integer length %d exceeds %d remaining bytes",
			ErrMalformedDER, n, p.remaining())
	}
	raw := p.buf[p.pos : p.pos+n]
	p.pos += n

	if raw[0]&0x80 != 0 {
		return nil, fmt.Errorf("%w: negative integer", ErrMalformedDER)
	}
	if n > 1 && raw[0] == 0 && raw[1]&0x80 == 0 {
		return nil, fmt.Errorf("%w: non-minimal integer padding", ErrMalformedDER)
	}
	return new(big.Int).SetBytes(raw), nil
}

// EncodeDER encodes R and S as a strict DER ECDSA signature. It is the
// inverse of ParseDER and exists so the local signing backend produces the
// same wire form a hardware signing module does.
func EncodeDER(r, s *big.Int) []byte {
	encodeInt := func(v *big.Int) []byte {
		b := v.Bytes()
		if len(b) == 0 {
			b = []byte{0}
		}
		if b[0]&0x80 != 0 {
			b = append([]byte{0}, b...)
		}
		return append([]byte{0x02, byte(len(b))}, b...)
	}
	body := append(encodeInt(r), encodeInt(s)...)
	return append([]byte{0x30, byte(len(body))}, body...)
}

// normalizeS maps S into the lower half of the curve order, the canonical
// form the chain's precompile accepts.
func normalizeS(s *big.Int) *big.Int {
	if s.Cmp(curveHalfN) > 0 {
		return new(big.Int).Sub(curveN, s)
	}
	return s
}
