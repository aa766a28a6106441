package did

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"scanasha/internal/logging"
)

// EnvKey is the .env variable holding the admin seed.
const EnvKey = "DID_ADMIN_PRIVATE_KEY"

// ErrCeramicNotStarted means the daemon config has not been generated yet.
var ErrCeramicNotStarted = errors.New("ceramic not started yet: start the ceramic node once to generate its config")

// AddAdminDID appends id to http-api.admin-dids in the daemon config at
// path. It reports false when the DID was already listed. Other keys of the
// config are kept; the file is rewritten as indented JSON.
func AddAdminDID(path, id string) (bool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read ceramic config: %w", err)
	}
	var conf map[string]any
	if err := json.Unmarshal(raw, &conf); err != nil {
		return false, fmt.Errorf("parse ceramic config: %w", err)
	}
	if conf == nil {
		conf = map[string]any{}
	}

	api, _ := conf["http-api"].(map[string]any)
	if api == nil {
		api = map[string]any{}
		conf["http-api"] = api
	}
	var admins []any
	if existing, ok := api["admin-dids"].([]any); ok {
		admins = existing
	}

	added := !slices.Contains(admins, any(id))
	if added {
		admins = append(admins, id)
	} else {
		logging.Identity("DID %s already exists in admin-dids", id)
	}
	if admins == nil {
		admins = []any{}
	}
	api["admin-dids"] = admins

	out, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode ceramic config: %w", err)
	}
	if err := os.WriteFile(path, out, 0644); err != nil {
		return false, fmt.Errorf("write ceramic config: %w", err)
	}
	return added, nil
}

// WriteEnv writes line to the env file at path, appending when asked.
func WriteEnv(path, line string, appendTo bool) error {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendTo {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create env dir: %w", err)
		}
	}
	f, err := os.OpenFile(path, flags, 0600)
	if err != nil {
		return fmt.Errorf("open env file: %w", err)
	}
	defer f.Close()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write env file: %w", err)
	}
	return nil
}

// BootstrapResult reports what Bootstrap did.
type BootstrapResult struct {
	Key AdminKey
	// RestartRequired is set when a new admin DID was registered and the
	// ceramic node must reload its config.
	RestartRequired bool
}

// Bootstrap ensures an admin key exists. With an existing seed it only
// derives the DID. Otherwise it generates one, registers it in the ceramic
// config and stores the seed in envPath.
func Bootstrap(existingSeed, configPath, envPath string) (BootstrapResult, error) {
	if existingSeed != "" {
		key, err := FromSeed(existingSeed)
		if err != nil {
			return BootstrapResult{}, err
		}
		return BootstrapResult{Key: key}, nil
	}

	if _, err := os.Stat(configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return BootstrapResult{}, ErrCeramicNotStarted
		}
		return BootstrapResult{}, err
	}

	key, err := GenerateAdminKey()
	if err != nil {
		return BootstrapResult{}, err
	}
	if _, err := AddAdminDID(configPath, key.DID); err != nil {
		return BootstrapResult{}, err
	}

	_, statErr := os.Stat(envPath)
	if err := WriteEnv(envPath, EnvKey+"="+key.Seed, statErr == nil); err != nil {
		return BootstrapResult{}, err
	}
	logging.Identity("generated admin DID %s", key.DID)
	return BootstrapResult{Key: key, RestartRequired: true}, nil
}
