// Package main provides the sandboxrt CLI entry point.
package main

func main() {
	Execute()
}
