package main

import (
	"log"

	"github.com/locano/channelbot/core/cmd"
)

func main() {
	if err := cmd.Run(cmd.Options{DefaultConfigPath: "config.yaml"}); err != nil {
		log.Fatalf("channelbot: %v", err)
	}
}
