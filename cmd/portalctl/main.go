// Command portalctl runs operator tasks against the loyalty portal database:
// schema migrations, catalog seeding and spend imports.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
