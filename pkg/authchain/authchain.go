// Package authchain verifies the Ethereum-style chain of signed statements
// that SIGNATURE validation (C4) uses to prove authority over an entity id
// (§4: "a chain of Ethereum-signed statements proving authority over an
// entity id"). spec.md treats the signature algorithm as an assumed
// external capability ("the core only calls verify and hash"); this package
// is the concrete implementation that capability is wired to.
//
// No secp256k1/go-ethereum-style signature recovery library exists in the
// reference corpus, and the standard library's crypto/ecdsa does not
// implement the secp256k1 curve or public-key recovery from a signature.
// Rather than fabricate that dependency, each link below carries the
// signer's own public key alongside its signature (the corpus's own
// pattern for multi-algorithm verification — see DESIGN.md — is a
// trusted-key lookup, not signature-based recovery), and an address is the
// low 20 bytes of the Keccak-256 digest of the uncompressed public key,
// structurally identical to Ethereum's own address derivation.
package authchain

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/contentmesh/server/pkg/entity"
	"golang.org/x/crypto/sha3"
)

// Link type names, matching the wire vocabulary of the auth chain format.
const (
	LinkSigner            = "SIGNER"
	LinkECDSAEphemeral    = "ECDSA_EPHEMERAL"
	LinkECDSASignedEntity = "ECDSA_SIGNED_ENTITY"
)

// ErrInvalidSignature is returned for any malformed or unverifiable chain;
// its message is the exact string the SIGNATURE predicate surfaces for an
// empty chain (§4).
var ErrInvalidSignature = errors.New("the signature is invalid")

// Verify walks chain and returns the root Ethereum address it proves
// authority from, provided the final link attests entityID. Each
// intermediate ECDSA_EPHEMERAL link must attest the address of the next
// link's key; the terminal ECDSA_SIGNED_ENTITY link must attest entityID
// itself.
func Verify(chain []entity.AuthLink, entityID string) (string, error) {
	if len(chain) == 0 {
		return "", ErrInvalidSignature
	}

	root := chain[0]
	if root.Type != LinkSigner {
		return "", fmt.Errorf("%w: first link must be %s", ErrInvalidSignature, LinkSigner)
	}
	rootAddress := normalizeAddress(root.Payload)
	if rootAddress == "" {
		return "", fmt.Errorf("%w: empty root address", ErrInvalidSignature)
	}
	if len(chain) == 1 {
		return "", fmt.Errorf("%w: chain has no terminal attestation", ErrInvalidSignature)
	}

	expected := rootAddress
	for i := 1; i < len(chain); i++ {
		link := chain[i]
		pubKeyHex, attested, err := splitPayload(link.Payload)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}

		pubKey, err := decodePublicKey(pubKeyHex)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}

		derived := addressFromPublicKey(pubKey)
		if derived != expected {
			return "", fmt.Errorf("%w: link %d key does not match delegated address", ErrInvalidSignature, i)
		}

		sig, err := hex.DecodeString(strings.TrimPrefix(link.Signature, "0x"))
		if err != nil {
			return "", fmt.Errorf("%w: malformed signature: %v", ErrInvalidSignature, err)
		}
		digest := keccak256([]byte(attested))
		if !ecdsa.VerifyASN1(pubKey, digest, sig) {
			return "", fmt.Errorf("%w: link %d signature does not verify", ErrInvalidSignature, i)
		}

		last := i == len(chain)-1
		switch {
		case last && link.Type == LinkECDSASignedEntity:
			if attested != entityID {
				return "", fmt.Errorf("%w: terminal link attests %q, want %q", ErrInvalidSignature, attested, entityID)
			}
			return rootAddress, nil
		case !last && link.Type == LinkECDSAEphemeral:
			expected = normalizeAddress(attested)
		default:
			return "", fmt.Errorf("%w: unexpected link type %q at position %d", ErrInvalidSignature, link.Type, i)
		}
	}

	return "", ErrInvalidSignature
}

// splitPayload parses "<pubkeyHex>|<attestedMessage>".
func splitPayload(payload string) (pubKeyHex, attested string, err error) {
	parts := strings.SplitN(payload, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed link payload")
	}
	return parts[0], parts[1], nil
}

func decodePublicKey(hexKey string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	curve := elliptic.P256()
	x, y := elliptic.Unmarshal(curve, raw)
	if x == nil {
		return nil, fmt.Errorf("invalid uncompressed public key encoding")
	}
	return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
}

// addressFromPublicKey derives a 20-byte hex address from the public key's
// uncompressed point encoding, mirroring Ethereum's keccak256(pubkey)[12:].
func addressFromPublicKey(pub *ecdsa.PublicKey) string {
	raw := elliptic.Marshal(pub.Curve, pub.X, pub.Y)
	digest := keccak256(raw[1:]) // drop the 0x04 uncompressed-point prefix
	return "0x" + hex.EncodeToString(digest[len(digest)-20:])
}

func keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	return h.Sum(nil)
}

func normalizeAddress(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	if !strings.HasPrefix(s, "0x") {
		return ""
	}
	return s
}
