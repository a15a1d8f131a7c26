package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
)

// ResolvedEnvironment represents a fully-resolved environment with concrete values.
type ResolvedEnvironment struct {
	Name        string
	DatabaseURL string
	DotenvPath  string
	FromConfig  bool
	FromDotenv  bool
}

// ResolveEnvironment resolves a named environment into a concrete connection string.
func ResolveEnvironment(config *Config, name string) (*ResolvedEnvironment, error) {
	envName := strings.TrimSpace(name)
	if envName == "" {
		if config != nil && config.DefaultEnvironment != "" {
			envName = config.DefaultEnvironment
		} else {
			envName = defaultEnvironmentName
		}
	}

	var (
		envConfig EnvironmentConfig
		envExists bool
	)
	if config != nil && config.Environments != nil {
		if cfg, ok := config.Environments[envName]; ok {
			envConfig = cfg
			envExists = true
		}
	}
	if config != nil && config.DatabaseURL != "" && envConfig.DatabaseURL == "" {
		envConfig.DatabaseURL = config.DatabaseURL
	}

	resolved := &ResolvedEnvironment{
		Name:        envName,
		DatabaseURL: envConfig.DatabaseURL,
		FromConfig:  envExists,
	}

	dotenvFileName := ".env." + envName
	baseDir := config.ConfigDir()
	projectDir := config.ProjectDir()
	if baseDir != "" {
		resolved.DotenvPath = filepath.Join(baseDir, dotenvFileName)
	} else {
		resolved.DotenvPath = dotenvFileName
	}

	if _, err := os.Stat(resolved.DotenvPath); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to access %s: %w", resolved.DotenvPath, err)
		}
		if projectDir != "" && projectDir != baseDir {
			altPath := filepath.Join(projectDir, dotenvFileName)
			if altInfo, altErr := os.Stat(altPath); altErr == nil && !altInfo.IsDir() {
				resolved.DotenvPath = altPath
			}
		}
	}

	if info, err := os.Stat(resolved.DotenvPath); err == nil && !info.IsDir() {
		values, err := godotenv.Read(resolved.DotenvPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", resolved.DotenvPath, err)
		}
		resolved.FromDotenv = true
		if url := databaseURLFromValues(values); url != "" {
			resolved.DatabaseURL = url
		}
	}

	if resolved.DatabaseURL == "" {
		resolved.DatabaseURL = defaultDatabaseURL
	}

	if config != nil && len(config.Environments) > 0 && !envExists && !resolved.FromDotenv {
		return nil, fmt.Errorf("environment %q not defined in %s and %s not found", envName, FileName, resolved.DotenvPath)
	}

	return resolved, nil
}

// databaseURLFromValues picks the connection string from dotenv values. A
// generic DATABASE_URL wins over the database-specific variables.
func databaseURLFromValues(values map[string]string) string {
	if value := values["DATABASE_URL"]; value != "" {
		return value
	}
	if value := values["POSTGRES_URL"]; value != "" {
		return value
	}
	if value := values["SQLITE_DB_PATH"]; value != "" {
		return value
	}
	if value := values["LIBSQL_URL"]; value != "" {
		if authToken := values["LIBSQL_AUTH_TOKEN"]; authToken != "" {
			return fmt.Sprintf("%s?authToken=%s", value, authToken)
		}
		return value
	}
	return ""
}
