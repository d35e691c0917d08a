// The main package for the flashcrawl executable.
package main

import "github.com/quantfeed/flashcrawl/cmd"

func main() {
	cmd.Execute()
}
