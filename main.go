// ./main.go
package main

import (
	"github.com/xkilldash9x/specter/cmd"
)

// main is the entry point for the specter CLI application.
func main() {
	cmd.Execute()
}
