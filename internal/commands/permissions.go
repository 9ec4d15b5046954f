package commands

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Role levels. Anyone not listed in the permissions file is a plain user and
// never sees the command surface.
const (
	RoleUser      = 0
	RoleDeveloper = 1
	RoleAdmin     = 2
)

var roleLevels = map[string]int{
	"developer": RoleDeveloper,
	"admin":     RoleAdmin,
}

// LoadRoles reads the permissions file fresh, so edits apply without a
// restart. A missing or unreadable file means no operators. An id listed
// under several roles keeps the lowest level.
func LoadRoles(path string) map[string]int {
	roles := map[string]int{}
	data, err := os.ReadFile(path)
	if err != nil {
		return roles
	}
	var raw map[string][]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		slog.Warn("permissions file unreadable", "path", path, "error", err)
		return roles
	}
	for name, ids := range raw {
		level := roleLevels[name] // unknown role names grant nothing
		for _, id := range ids {
			key := fmt.Sprintf("%v", id)
			if prev, ok := roles[key]; ok {
				if level < prev {
					roles[key] = level
				}
				slog.Warn("user listed under multiple roles, keeping lowest",
					"user_id", key, "role", name)
				continue
			}
			roles[key] = level
		}
	}
	return roles
}
