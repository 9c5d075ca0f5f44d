package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
)

// Generates a fresh HMAC signing secret. 48 bytes of entropy comfortably
// clears the 32-byte floor after base64 encoding.
func main() {
	buf := make([]byte, 48)
	if _, err := rand.Read(buf); err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate secret: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("--- COPY BELOW TO .env.local ---")
	fmt.Printf("SIGNING_SECRET=%s\n", base64.RawStdEncoding.EncodeToString(buf))
	fmt.Println("--------------------------------")
}
