package config

import (
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

// EnvFromSettings flattens the resolved settings of v into MISSION_MCP_* variables,
// sorted by name, ready to be handed to a client launching the server.
func EnvFromSettings(v *viper.Viper) []EnvVar {
	flat := make(map[string]any)
	flattenMap("", v.AllSettings(), flat)

	out := make([]EnvVar, 0, len(flat))
	for k, val := range flat {
		out = append(out, EnvVar{Name: ToEnvKey(k), Value: anyToString(val)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnvVar is one environment variable assignment.
type EnvVar struct {
	Name  string
	Value string
}

// ToEnvKey converts a dotted settings key to its environment variable name.
func ToEnvKey(dotKey string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(dotKey, ".", "_"))
}

func flattenMap(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case map[string]any:
			if len(t) == 0 {
				continue
			}
			flattenMap(key, t, out)
		case map[string]string:
			for kk, vv := range t {
				out[key+"."+kk] = vv
			}
		case map[string]time.Duration:
			for kk, vv := range t {
				out[key+"."+kk] = vv
			}
		default:
			out[key] = v
		}
	}
}

func anyToString(v any) string {
	switch vv := v.(type) {
	case []string, []any:
		return strings.Join(cast.ToStringSlice(vv), ",")
	default:
		return cast.ToString(vv)
	}
}
