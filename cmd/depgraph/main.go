package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/alex-galey/mission-mcp/pkg/fxapp"
	"go.uber.org/fx"
)

// depgraph prints a DOT graph of either the fx provider graph of the server or the
// package import graph of the module.
func main() {
	packages := flag.Bool("packages", false, "print the package import graph instead of the fx provider graph")
	flag.Parse()

	if *packages {
		if err := printPackageGraph(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to build package graph: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var graph fx.DotGraph
	app := fxapp.New(fx.Populate(&graph))
	if err := app.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build application graph: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(graph))
}

func printPackageGraph() error {
	out, err := exec.Command("go", "list", "./...").Output()
	if err != nil {
		return fmt.Errorf("failed to list packages: %w", err)
	}
	pkgs := strings.Fields(string(out))
	known := make(map[string]bool, len(pkgs))
	for _, p := range pkgs {
		known[p] = true
	}

	fmt.Println("digraph G {")
	for _, pkg := range pkgs {
		out, err := exec.Command("go", "list", "-f", "{{ join .Imports \"\\n\" }}", pkg).Output()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list imports for %s: %v\n", pkg, err)
			continue
		}
		for _, imp := range strings.Fields(string(out)) {
			if known[imp] {
				fmt.Printf("  %q -> %q;\n", pkg, imp)
			}
		}
	}
	fmt.Println("}")
	return nil
}
