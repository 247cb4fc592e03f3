package main

import (
	"github.com/arcward/chanops/cmd"
)

func main() {
	cmd.Execute()
}
