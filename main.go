package main

import (
	"github.com/joho/godotenv"

	"kbqa/cli"
)

func init() {
	// Load .env file if exists
	_ = godotenv.Load()
}

func main() {
	cli.Execute()
}
