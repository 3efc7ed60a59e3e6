package db

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Schema script file names.
const (
	ScriptConfig                 = "mfa-db.sql"
	ScriptConfigEncrypted        = "mfa-db-encrypted.sql"
	ScriptConfigUpgrade          = "mfa-db-upgrade.sql"
	ScriptConfigEncryptedUpgrade = "mfa-db-Encrypted-upgrade.sql"
	ScriptKeys                   = "mfa-secretkey-db.sql"
	ScriptKeysEncrypted          = "mfa-secretkey-db-encrypted.sql"
	ScriptKeysUpgrade            = "mfa-secretkey-db-upgrade.sql"
	ScriptKeysEncryptedUpgrade   = "mfa-secretkey-db-encrypted-upgrade.sql"
)

// Script placeholders.
const (
	PlaceholderDatabase = "%DATABASENAME%"
	PlaceholderKey      = "%SQLKEY%"
)

// ScriptSource loads opaque schema scripts.
type ScriptSource interface {
	Load(name string) (string, error)
}

// ScriptDir reads scripts from a directory.
type ScriptDir string

func (d ScriptDir) Load(name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(string(d), name))
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", name, err)
	}
	return string(raw), nil
}

// Render substitutes the database and, when non-empty, key placeholders.
func Render(script, database, key string) string {
	pairs := []string{PlaceholderDatabase, database}
	if key != "" {
		pairs = append(pairs, PlaceholderKey, key)
	}
	return strings.NewReplacer(pairs...).Replace(script)
}
