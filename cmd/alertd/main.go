// Package main is the entry point for the alerting engine.
package main

import "alert-engine/cmd/alertd/cmd"

func main() {
	cmd.Execute()
}
