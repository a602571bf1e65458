package usecases

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"

	"github.com/sand/digital-marketplace/backend/internal/entities"
)

type Network string

const (
	NetworkSolana Network = "solana"
	NetworkEVM    Network = "evm"
)

// ValidatePayoutAddress accepts 0x-prefixed EVM addresses (EIP-55 checksum enforced when
// the address is mixed case) and base58 Solana public keys.
func ValidatePayoutAddress(address string) (Network, error) {
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		if !common.IsHexAddress(address) {
			return "", entities.Validationf("invalid EVM address %q", address)
		}
		hexPart := address[2:]
		if strings.ToLower(hexPart) != hexPart && strings.ToUpper(hexPart) != hexPart {
			if common.HexToAddress(address).Hex() != address {
				return "", entities.Validationf("EVM address %q has an invalid checksum", address)
			}
		}
		return NetworkEVM, nil
	}

	key, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", entities.Validationf("invalid Solana address %q", address)
	}
	if key.IsZero() {
		return "", entities.Validationf("Solana address %q is the zero key", address)
	}
	return NetworkSolana, nil
}
