package mqtt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// instanceFile holds the broker client identity inside the data dir.
const instanceFile = "mqtt_instance_id"

// ClientID returns a broker client id that stays stable across
// restarts: deviceName plus the first block of a UUIDv7 persisted in
// dataDir. Two Leozera instances sharing a device name still get
// distinct ids, so the broker never kicks one for the other.
func ClientID(dataDir, deviceName string) (string, error) {
	path := filepath.Join(dataDir, instanceFile)

	id := ""
	if data, err := os.ReadFile(path); err == nil {
		id = strings.TrimSpace(string(data))
	}
	if id == "" {
		v7, err := uuid.NewV7()
		if err != nil {
			return "", fmt.Errorf("generate mqtt instance id: %w", err)
		}
		id = v7.String()
		if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
			return "", fmt.Errorf("persist mqtt instance id to %s: %w", path, err)
		}
	}

	short, _, _ := strings.Cut(id, "-")
	return deviceName + "-" + short, nil
}
