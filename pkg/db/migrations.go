package db

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const migrationsLogPrefix = "db:migrations"

const downSuffix = ".down.sql"

// Migration is one numbered step. Up comes from NAME.sql and Down, if
// present, from NAME.down.sql.
type Migration struct {
	Name string
	Up   string
	Down string
}

// LoadMigrationFiles reads the migrations in dir, sorted by file name.
func LoadMigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to read migration dir %s: %w", migrationsLogPrefix, dir, err)
	}

	var names []string
	downs := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".sql" {
			continue
		}
		if strings.HasSuffix(e.Name(), downSuffix) {
			downs[strings.TrimSuffix(e.Name(), downSuffix)] = true
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".sql"))
	}
	sort.Strings(names)

	var out []Migration
	for _, name := range names {
		up, err := readSQL(dir, name+".sql")
		if err != nil {
			return nil, err
		}
		m := Migration{Name: name, Up: up}
		if downs[name] {
			if m.Down, err = readSQL(dir, name+downSuffix); err != nil {
				return nil, err
			}
		}
		out = append(out, m)
	}
	slog.Info(fmt.Sprintf("%s - Loaded %d migration files from %s", migrationsLogPrefix, len(out), dir))
	return out, nil
}

func readSQL(dir, file string) (string, error) {
	path := filepath.Join(dir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%s - failed to read %s: %w", migrationsLogPrefix, path, err)
	}
	return string(data), nil
}
