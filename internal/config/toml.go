// Package config loads command line defaults from TOML files.
package config

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/pelletier/go-toml/v2"
)

// TOML returns a kong.Resolver backed by a TOML document. It is a
// kong.ConfigurationLoader, so it plugs into kong.Configuration.
//
// A flag such as --redis-addr is looked up as redis-addr, redis_addr, or
// addr inside a [redis] table.
func TOML(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := toml.NewDecoder(r).Decode(&values); err != nil {
		return nil, fmt.Errorf("invalid TOML config: %w", err)
	}
	var f kong.ResolverFunc = func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		raw, ok := lookup(values, flag.Name)
		if !ok {
			return nil, nil
		}
		return normalize(raw), nil
	}
	return f, nil
}

func lookup(m map[string]any, name string) (any, bool) {
	if v, ok := m[name]; ok {
		return v, true
	}
	if v, ok := m[strings.ReplaceAll(name, "-", "_")]; ok {
		return v, true
	}
	for i := strings.IndexByte(name, '-'); i > 0; {
		if sub, ok := m[name[:i]].(map[string]any); ok {
			if v, ok := lookup(sub, name[i+1:]); ok {
				return v, true
			}
		}
		next := strings.IndexByte(name[i+1:], '-')
		if next < 0 {
			break
		}
		i += next + 1
	}
	return nil, false
}

// normalize turns TOML values into the string forms kong mappers accept.
func normalize(v any) any {
	switch t := v.(type) {
	case string, bool:
		return t
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = fmt.Sprint(e)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(t)
	}
}
