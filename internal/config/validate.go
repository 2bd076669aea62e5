// internal/config/validate.go
package config

import (
	"fmt"
	"os"

	"github.com/vmunix/arrgo-renamer/internal/model"
)

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true, "": true,
}

var validClientOS = map[string]bool{
	"windows": true, "mac": true, "linux": true, "": true,
}

// Validate checks the configuration for errors.
// Returns a slice of error messages (empty if valid).
func (c *Config) Validate() []string {
	var errs []string

	if len(c.Libraries) == 0 {
		errs = append(errs, "libraries: at least one library must be configured")
	}
	if len(c.Users) == 0 {
		errs = append(errs, "users: at least one user must be configured")
	}

	if c.Server.Port != 0 && (c.Server.Port < 1 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port: must be between 1 and 65535, got %d", c.Server.Port))
	}
	if !validLogLevels[c.Server.LogLevel] {
		errs = append(errs, fmt.Sprintf("server.log_level: must be one of debug, info, warn, error; got %q", c.Server.LogLevel))
	}

	for i, lib := range c.Libraries {
		if lib.Path == "" {
			errs = append(errs, fmt.Sprintf("libraries[%d].path: required", i))
			continue
		}
		if lib.Username == "" {
			errs = append(errs, fmt.Sprintf("libraries[%d].username: required", i))
		} else if _, ok := c.Users[lib.Username]; !ok {
			errs = append(errs, fmt.Sprintf("libraries[%d].username: %q is not a configured user", i, lib.Username))
		}
		if _, err := os.Stat(lib.Path); os.IsNotExist(err) {
			errs = append(errs, fmt.Sprintf("libraries[%d].path: warning: directory %q does not exist", i, lib.Path))
		}
	}

	for name, user := range c.Users {
		if !validClientOS[user.ClientOS] {
			errs = append(errs, fmt.Sprintf("users.%s.client_os: must be one of windows, mac, linux; got %q", name, user.ClientOS))
		}
		for _, id := range user.MetadataProviderOrder {
			if !model.ProviderID(id).Valid() {
				errs = append(errs, fmt.Sprintf("users.%s.metadata_provider_order: unrecognized provider %q", name, id))
			}
		}
		if user.DefaultMetaProvider != "" && !model.ProviderID(user.DefaultMetaProvider).Valid() {
			errs = append(errs, fmt.Sprintf("users.%s.default_meta_provider: unrecognized provider %q", name, user.DefaultMetaProvider))
		}
		for i, of := range user.OutputFolders {
			if of.Path == "" {
				errs = append(errs, fmt.Sprintf("users.%s.output_folders[%d].path: required", name, i))
			}
		}
	}

	return errs
}
