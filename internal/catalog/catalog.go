// Package catalog manages the YAML string table used for system messages
// and notifications.
package catalog

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed strings.yml
var defaultStrings []byte

// Config is the top-level YAML structure.
type Config struct {
	Strings map[string]string `yaml:"strings"`
}

// Catalog holds the loaded strings, keyed by name.
type Catalog struct {
	byKey map[string]string
}

// Default returns the catalog built from the embedded string table.
func Default() *Catalog {
	c, err := Parse(defaultStrings)
	if err != nil {
		// The embedded table is part of the binary; a parse failure is a
		// build defect.
		panic("catalog: embedded strings.yml: " + err.Error())
	}
	return c
}

// Parse builds a catalog from YAML data.
func Parse(data []byte) (*Catalog, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	c := &Catalog{byKey: make(map[string]string, len(cfg.Strings))}
	for k, v := range cfg.Strings {
		c.byKey[k] = v
	}
	return c, nil
}

// Load reads overrides from the YAML file at path on top of the embedded
// defaults. If the file does not exist, Load returns the defaults (not an
// error).
func Load(path string) (*Catalog, error) {
	c := Default()
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, err
	}

	overrides, err := Parse(data)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides.byKey {
		c.byKey[k] = v
	}
	return c, nil
}

// Get returns the raw string for key. Returns ("", false) if not found.
func (c *Catalog) Get(key string) (string, bool) {
	s, ok := c.byKey[key]
	return s, ok
}

// Format returns the string for key with every [ARG] placeholder replaced
// by args["ARG"]. Unknown keys come back as the key itself so a missing
// translation is visible rather than silent.
func (c *Catalog) Format(key string, args map[string]string) string {
	s, ok := c.byKey[key]
	if !ok {
		return key
	}
	if len(args) == 0 {
		return s
	}
	pairs := make([]string, 0, len(args)*2)
	for k, v := range args {
		pairs = append(pairs, "["+strings.Trim(k, "[]")+"]", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

// Keys returns a sorted list of string keys.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.byKey))
	for k := range c.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
