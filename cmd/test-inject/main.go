// Command test-inject is a manual test for text insertion.
// It waits 3 seconds, then types or pastes test text into whatever has
// focus. Focus a text editor before the countdown finishes.
//
// Usage:
//
//	go run ./cmd/test-inject [--method type|paste]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sebsto/wispr/internal/inject"
)

func main() {
	methodFlag := flag.String("method", "type", "insertion method: type or paste")
	restore := flag.Bool("restore", true, "restore clipboard after paste")
	flag.Parse()

	method, err := inject.ParseMethod(*methodFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	text := "Hello from wispr!"

	fmt.Printf("Will insert %q using %q in 3 seconds...\n", text, method)
	fmt.Println("Focus a text editor now!")

	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	inj := inject.New(method, *restore)
	if err := inj.Insert(context.Background(), text); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	fmt.Println("\nDone!")
}
