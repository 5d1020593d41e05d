package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const machineTokenPrefix = "ofc_"

// GenerateMachineToken creates a new machine token and its storage hash.
// Format: ofc_<uuid>_<random_secret>
func GenerateMachineToken() (string, string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate secret: %w", err)
	}

	token := fmt.Sprintf("%s%s_%s", machineTokenPrefix, uuid.NewString(), hex.EncodeToString(secretBytes))
	return token, HashMachineToken(token), nil
}

// HashMachineToken hashes a machine token for storage
func HashMachineToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// IsMachineToken checks the token format without touching storage.
func IsMachineToken(token string) bool {
	return len(token) == len(machineTokenPrefix)+36+1+64 && strings.HasPrefix(token, machineTokenPrefix)
}
