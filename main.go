// The main package for the tbprogress executable.
package main

import (
	"github.com/JakeFAU/tbprogress/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
