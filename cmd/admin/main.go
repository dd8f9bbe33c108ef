package main

import (
	"encoding/json"
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "db":
		dbCmd(args)
	case "stats":
		statsCmd(args)
	case "region":
		regionCmd(args)
	case "cache":
		cacheCmd(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: admin <db|stats|region|cache> [flags]")
	fmt.Fprintln(os.Stderr, "  db      query the chunk event index (releases|errors|slow|chunk)")
	fmt.Fprintln(os.Stderr, "  stats   fetch /v1/stats from a running server")
	fmt.Fprintln(os.Stderr, "  region  generate a window offline and print it as ascii or json")
	fmt.Fprintln(os.Stderr, "  cache   summarize or verify the on-disk chunk cache")
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
