package main

import (
	"fmt"
	"os"

	analysisapi "github.com/sloscope/sloscope/controller/cmd/analysis-api"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("expected a subcommand")
		os.Exit(1)
	}

	switch os.Args[1] {
	case "analysis-api":
		analysisapi.Main(os.Args[2:])
	default:
		fmt.Printf("unknown subcommand: %s\n", os.Args[1])
		os.Exit(1)
	}
}
