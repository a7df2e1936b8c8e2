// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press Ctrl+Shift+Space to see events; Esc emits a cancel.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--mode hold|toggle]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebsto/wispr/internal/hotkey"
)

func main() {
	modeFlag := flag.String("mode", "hold", "hotkey mode: hold or toggle")
	flag.Parse()

	mode, err := hotkey.ParseMode(*modeFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	keys := []string{"ctrl", "shift", "space"}
	fmt.Printf("Listening for Ctrl+Shift+Space in %q mode...\n", mode)
	fmt.Println("Press Ctrl+C to exit.")

	listener := hotkey.New(keys, mode)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	go func() {
		for ev := range listener.Events() {
			switch ev.Kind {
			case hotkey.Begin:
				fmt.Println(">>> BEGIN  (recording)")
			case hotkey.End:
				fmt.Println("<<< END    (processing)")
			case hotkey.Cancel:
				fmt.Println("xxx CANCEL (discarded)")
			}
		}
		fmt.Println("Event channel closed.")
	}()

	// Blocks until stopped
	listener.Run()
	fmt.Println("Done.")
}
