// Package id128 provides the 128-bit identifiers used by journal files:
// the per-file id, the machine id, the boot id and the sequence-number-space
// id shared across rotations.
package id128

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ID is a 128-bit identifier, rendered as 32 lowercase hex characters.
type ID [16]byte

// Zero is the all-zero ID.
var Zero ID

// IsZero reports whether id is the all-zero ID.
func (id ID) IsZero() bool { return id == Zero }

// String returns the 32-character lowercase hex form.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Parse decodes a 32-character hex string, ignoring dashes (so both the
// compact form and the UUID form used by /proc are accepted).
func Parse(s string) (ID, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "-", "")
	if len(s) != 32 {
		return Zero, fmt.Errorf("id128: invalid length %d", len(s))
	}
	var id ID
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Zero, fmt.Errorf("id128: invalid hex: %w", err)
	}
	return id, nil
}

// Random returns a new random ID.
func Random() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return Zero, fmt.Errorf("id128: random: %w", err)
	}
	return id, nil
}

var (
	machineOnce sync.Once
	machineID   ID
	machineErr  error

	bootOnce sync.Once
	bootID   ID
	bootErr  error
)

// machineIDPath and bootIDPath are variables so tests can point them at
// fixtures.
var (
	machineIDPath = "/etc/machine-id"
	bootIDPath    = "/proc/sys/kernel/random/boot_id"
)

// Machine returns this host's machine ID. The value is read once and cached.
// When no machine-id file exists (minimal containers), a stable fallback is
// derived from the hostname so that files written on the same host remain
// openable across processes.
func Machine() (ID, error) {
	machineOnce.Do(func() {
		machineID, machineErr = readIDFile(machineIDPath)
		if machineErr == nil {
			return
		}
		machineID, machineErr = readIDFile("/var/lib/dbus/machine-id")
		if machineErr == nil {
			return
		}
		hostname, err := os.Hostname()
		if err != nil {
			return
		}
		machineID, machineErr = deriveID(hostname), nil
	})
	return machineID, machineErr
}

func deriveID(s string) ID {
	var id ID
	h := sha256.Sum256([]byte("journalfile-machine-id:" + s))
	copy(id[:], h[:16])
	return id
}

// Boot returns the current boot's ID. The value is read once and cached.
// Without /proc (non-Linux), a random per-process ID is used; the journal then
// treats every process as a fresh boot, which only loosens the monotonic clock
// check.
func Boot() (ID, error) {
	bootOnce.Do(func() {
		bootID, bootErr = readIDFile(bootIDPath)
		if bootErr != nil {
			bootID, bootErr = Random()
		}
	})
	return bootID, bootErr
}

func readIDFile(path string) (ID, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Zero, fmt.Errorf("id128: read %s: %w", path, err)
	}
	id, err := Parse(string(b))
	if err != nil {
		return Zero, fmt.Errorf("id128: parse %s: %w", path, err)
	}
	return id, nil
}
