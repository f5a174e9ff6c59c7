// The main package for the license-resolver executable.
package main

import "github.com/JakeFAU/license-resolver/cmd"

func main() {
	cmd.Main()
}
