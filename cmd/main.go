package main

import (
	"log"

	"github.com/maplive/engine/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		log.Fatal(err)
	}
}
