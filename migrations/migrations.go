// Package migrations embeds the snapshot database schema.
package migrations

import (
	"embed"
	"fmt"
)

//go:embed *.sql
var files embed.FS

// Direction selects which migration script to load
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

const schemaVersion = "001_create_snapshot"

// Load returns the file name and SQL of the migration for direction
func Load(direction Direction) (string, string, error) {
	switch direction {
	case Up, Down:
	default:
		return "", "", fmt.Errorf("invalid migration direction %q (allowed: up, down)", direction)
	}

	name := fmt.Sprintf("%s.%s.sql", schemaVersion, direction)
	content, err := files.ReadFile(name)
	if err != nil {
		return "", "", fmt.Errorf("failed to read migration %s: %w", name, err)
	}
	return name, string(content), nil
}
