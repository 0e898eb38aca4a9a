// The main package for the pdfcapture executable.
package main

import (
	"github.com/JakeFAU/pdf-capture-service/cmd"
)

func main() {
	cmd.Execute()
}
