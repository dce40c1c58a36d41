package crypto

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/yieldmarket/internal/domain"
)

// Signer signs EIP-191 personal messages with one secp256k1 key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner parses a hex private key.
func NewSigner(privateKeyHex string) (*Signer, error) {
	pk, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	return &Signer{key: pk, address: ethcrypto.PubkeyToAddress(pk.PublicKey)}, nil
}

// Address is the account the key controls.
func (s *Signer) Address() common.Address { return s.address }

// SignMessage returns a 65-byte signature over the EIP-191 hash of msg with
// V in {27, 28}.
func (s *Signer) SignMessage(msg []byte) ([]byte, error) {
	sig, err := ethcrypto.Sign(accounts.TextHash(msg), s.key)
	if err != nil {
		return nil, fmt.Errorf("crypto: sign: %w: %v", domain.ErrSigningFailed, err)
	}
	sig[64] += 27
	return sig, nil
}

// SignRequest signs the canonical request payload and returns it hex
// encoded for the X-Signature header.
func (s *Signer) SignRequest(method, path string, timestamp int64, body []byte) (string, error) {
	sig, err := s.SignMessage(RequestPayload(method, path, timestamp, body))
	if err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(sig), nil
}

// RecoverAddress returns the account that signed msg. V may be 0/1 or 27/28.
func RecoverAddress(msg, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("crypto: signature must be 65 bytes, got %d: %w", len(sig), domain.ErrUnauthorized)
	}
	cp := make([]byte, 65)
	copy(cp, sig)
	if cp[64] >= 27 {
		cp[64] -= 27
	}
	pub, err := ethcrypto.SigToPub(accounts.TextHash(msg), cp)
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: recover: %w: %v", domain.ErrUnauthorized, err)
	}
	return ethcrypto.PubkeyToAddress(*pub), nil
}

// RecoverRequest recovers the signer of a request from its hex signature.
func RecoverRequest(method, path string, timestamp int64, body []byte, sigHex string) (common.Address, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(sigHex, "0x"))
	if err != nil {
		return common.Address{}, fmt.Errorf("crypto: signature hex: %w", domain.ErrUnauthorized)
	}
	return RecoverAddress(RequestPayload(method, path, timestamp, body), sig)
}

// RequestPayload is the message a client signs:
//
//	METHOD\n/path\nunix-seconds\nbody
func RequestPayload(method, path string, timestamp int64, body []byte) []byte {
	var b strings.Builder
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('\n')
	b.WriteString(path)
	b.WriteByte('\n')
	b.WriteString(strconv.FormatInt(timestamp, 10))
	b.WriteByte('\n')
	b.Write(body)
	return []byte(b.String())
}
