package main

import (
	"log"

	"github.com/OneSila/OneSilaHeadless-sub006/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
