package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const credentialsFile = "credentials.json"

// readJSONFile reads a JSON file and unmarshals it into the provided variable.
func readJSONFile(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, v)
}

// lookupAPIKey reads the API key for baseURL's host from credentials.json in
// configDir. The file maps hosts to {"api_key": "..."}; a missing file is
// not an error.
func lookupAPIKey(configDir, baseURL string) (string, error) {
	var creds map[string]any
	if err := readJSONFile(filepath.Join(configDir, credentialsFile), &creds); err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read %s: %w", credentialsFile, err)
	}

	host := baseURL
	if u, err := url.Parse(baseURL); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	return extractAPIKey(creds, host), nil
}

// extractAPIKey helps extract the key from credentials data
func extractAPIKey(creds map[string]any, host string) string {
	for h, data := range creds {
		if !strings.Contains(host, h) {
			continue
		}

		keyData, ok := data.(map[string]any)
		if !ok {
			continue
		}

		if key, ok := keyData["api_key"].(string); ok && key != "" {
			return key
		}
	}
	return ""
}
