package identity

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/greenseed/greenseed_wallet/internal/ledger"
)

// Normalize validates a 0x-prefixed 20-byte hex address and returns its EIP-55
// checksummed form. Mixed-case input must already carry a valid checksum.
func Normalize(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if !strings.HasPrefix(addr, "0x") && !strings.HasPrefix(addr, "0X") {
		return "", ledger.Validationf("address %q must start with 0x", raw)
	}
	if !common.IsHexAddress(addr) {
		return "", ledger.Validationf("address %q is not a 20-byte hex address", raw)
	}

	body := addr[2:]
	if body != strings.ToLower(body) && body != strings.ToUpper(body) {
		mixed, err := common.NewMixedcaseAddressFromString("0x" + body)
		if err != nil || !mixed.ValidChecksum() {
			return "", ledger.Validationf("address %q has an invalid checksum", raw)
		}
	}
	return common.HexToAddress(addr).Hex(), nil
}

// Generate returns a fresh random checksummed address for wallets created
// without one.
func Generate() (string, error) {
	var b [common.AddressLength]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generate address: %w", err)
	}
	return common.BytesToAddress(b[:]).Hex(), nil
}
