package telemetry

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/denisbrodbeck/machineid"
)

// deviceIDMessage is the fixed HMAC message; changing it changes every
// device id ever reported.
const deviceIDMessage = "atlascli"

// MachineIDFunc returns the raw, unhashed machine identifier.
type MachineIDFunc func(ctx context.Context) (string, error)

// DefaultMachineID reads the OS machine id. The lookup itself cannot be
// cancelled, so on ctx expiry the call returns early and the result is
// discarded.
func DefaultMachineID(ctx context.Context) (string, error) {
	type result struct {
		id  string
		err error
	}
	ch := make(chan result, 1)
	go func() {
		id, err := machineid.ID()
		ch <- result{id, err}
	}()

	select {
	case r := <-ch:
		return r.id, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HashDeviceID derives the anonymized device id from a raw machine id.
func HashDeviceID(raw string) string {
	mac := hmac.New(sha256.New, []byte(strings.ToUpper(raw)))
	mac.Write([]byte(deviceIDMessage))
	return hex.EncodeToString(mac.Sum(nil))
}
