package push

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// VAPIDKeys identify this server to push providers.
type VAPIDKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// LoadOrGenerateVAPIDKeys reads the key file at path, generating and
// writing a fresh pair on first start. Losing the file invalidates every
// subscription clients made against the previous public key.
func LoadOrGenerateVAPIDKeys(path string, log *slog.Logger) (VAPIDKeys, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		var keys VAPIDKeys
		if err = json.Unmarshal(raw, &keys); err != nil {
			return VAPIDKeys{}, fmt.Errorf("corrupted VAPID key file %s: %w", path, err)
		}
		if keys.PublicKey == "" || keys.PrivateKey == "" {
			return VAPIDKeys{}, fmt.Errorf("incomplete VAPID key file %s", path)
		}
		return keys, nil
	}
	if !os.IsNotExist(err) {
		return VAPIDKeys{}, err
	}

	log.Info("Generating VAPID keys", "path", path)
	private, public, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return VAPIDKeys{}, err
	}
	keys := VAPIDKeys{PublicKey: public, PrivateKey: private}
	raw, err = json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return VAPIDKeys{}, err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err = os.MkdirAll(dir, 0o700); err != nil {
			return VAPIDKeys{}, err
		}
	}
	if err = os.WriteFile(path, raw, 0o600); err != nil {
		return VAPIDKeys{}, err
	}
	return keys, nil
}
