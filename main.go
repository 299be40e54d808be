// The main package for the topic-digest executable.
package main

import (
	"github.com/JakeFAU/topic-digest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
