package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alex-galey/mission-mcp/pkg/config"
	"github.com/spf13/viper"
)

// gen-mcp-json writes a .mcp.json client entry launching the server with the current
// configuration passed through MISSION_MCP_* variables.

type clientConfig struct {
	Servers map[string]launchEntry `json:"mcpServers"`
}

type launchEntry struct {
	Command string     `json:"command"`
	Args    []string   `json:"args,omitempty"`
	Env     orderedEnv `json:"env,omitempty"`
}

// exportedPrefixes selects the settings a client launcher may need to override.
var exportedPrefixes = []string{"transport", "log", "backend", "definitions", "execution", "plugins"}

func main() {
	name := flag.String("name", "mission", "server entry name")
	command := flag.String("command", defaultCommand(), "server binary to launch")
	out := flag.String("out", "", "output path, defaults to .mcp.json at the module root")
	flag.Parse()

	if _, err := config.LoadConfig(); err != nil {
		fail("failed to load config", err)
	}

	env := orderedEnv{}
	for _, kv := range config.EnvFromSettings(viper.GetViper()) {
		if exported(kv.Name) {
			env[kv.Name] = kv.Value
		}
	}

	path := *out
	if path == "" {
		wd, _ := os.Getwd()
		root, err := moduleRoot(wd)
		if err != nil {
			fail("failed to locate module root", err)
		}
		path = filepath.Join(root, ".mcp.json")
	}

	data, err := json.MarshalIndent(clientConfig{
		Servers: map[string]launchEntry{*name: {Command: *command, Env: env}},
	}, "", "  ")
	if err != nil {
		fail("failed to marshal .mcp.json", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		fail("failed to write .mcp.json", err)
	}
	fmt.Printf("wrote %s (%d variables)\n", path, len(env))
}

func fail(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	os.Exit(1)
}

func defaultCommand() string {
	if buildDir, bin := os.Getenv("BUILD_DIR"), os.Getenv("BINARY_NAME"); buildDir != "" && bin != "" {
		return filepath.ToSlash(filepath.Join(buildDir, bin))
	}
	return "./build/mission-mcp"
}

func exported(name string) bool {
	for _, prefix := range exportedPrefixes {
		if strings.HasPrefix(name, config.ToEnvKey(prefix)) {
			return true
		}
	}
	return false
}

func moduleRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// orderedEnv marshals with sorted keys so the file is stable across runs.
type orderedEnv map[string]string

func (o orderedEnv) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(o[k])
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
