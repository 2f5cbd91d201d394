package main

import (
	"log"
	"os"

	"payflow/cli"

	"github.com/joho/godotenv"
)

var version = "dev"

func main() {
	// a .env next to the binary may carry PAYFLOW_* overrides
	err := godotenv.Load()
	if err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	if err := cli.Execute(version); err != nil {
		os.Exit(1)
	}
}
