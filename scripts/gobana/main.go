package main

import (
	"Go2NetNodes/internal/engine/impl/traffic"
	"fmt"
	"log"
	"os"
	"sort"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./scripts/gobana <flows.dat>")
		os.Exit(1)
	}

	flows, err := traffic.ReadFlows(os.Args[1])
	if err != nil {
		log.Fatalf("Failed to read flows: %v", err)
	}
	sort.Slice(flows, func(i, j int) bool { return flows[i].Bytes > flows[j].Bytes })

	fmt.Printf("%d flows\n", len(flows))
	fmt.Printf("%6s %6s %5s %6s %6s %10s %12s\n", "FROM", "TO", "PROTO", "SPORT", "DPORT", "PACKETS", "BYTES")
	for _, f := range flows {
		fmt.Printf("%6d %6d %5d %6d %6d %10d %12d\n", f.FromNode, f.ToNode, f.Protocol, f.FromPort, f.ToPort, f.Packets, f.Bytes)
	}
}
