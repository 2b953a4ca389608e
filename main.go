// The main package for the stocksync executable.
package main

import "github.com/JakeFAU/stocksync/cmd"

func main() {
	cmd.Execute()
}
