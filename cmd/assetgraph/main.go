package main

import "github.com/asset-graph/cmd/assetgraph/cmd"

func main() {
	cmd.Execute()
}
