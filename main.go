// Dotmatrix is a local first CI runner for Travis style pipeline files.
//
// Every interpreter version listed in the file becomes a matrix cell with its
// own copy of the project, run on the host or inside a Docker container.
package main

import (
	"os"

	"github.com/opnlabs/dotmatrix/cmd/dotmatrix"
)

func main() {
	os.Exit(dotmatrix.Execute())
}
