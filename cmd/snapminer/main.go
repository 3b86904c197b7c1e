// Package main implements snapminer, a parallel Argon2 proof-of-work miner
// that mines against a single node over JSON-RPC.
package main

func main() {
	Execute()
}
