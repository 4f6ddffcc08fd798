// Package main is the entry point for InsightGate.
package main

func main() {
	Execute()
}
