package crypto

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/quorumlabs/foresight/internal/domain"
)

// DeriveIdentity computes the checksummed address for a hex-encoded private
// key. The result is the identity checked against the operator collaborator
// slot, so key and registration can be verified to match at startup.
func DeriveIdentity(privateKeyHex string) (domain.Address, error) {
	key, err := ethcrypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return domain.ZeroAddress, fmt.Errorf("crypto: parse private key: %w", err)
	}
	addr := ethcrypto.PubkeyToAddress(key.PublicKey)
	return domain.Address(addr.Hex()), nil
}
