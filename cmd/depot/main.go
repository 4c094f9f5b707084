// Command depot runs and administers a depot.
package main

import "github.com/mesh-intelligence/depot/internal/cli"

func main() {
	cli.Execute()
}
