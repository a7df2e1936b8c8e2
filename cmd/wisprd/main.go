// wisprd is the dictation daemon: it owns the microphone, the speech
// models, and the global hotkey, and serves a small control socket that
// the same binary's subcommands talk to.
package main

import (
	"flag"
	"fmt"
	"os"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/wispr/config.yaml)")
	socketPath := flag.String("socket", "", "control socket path (default: $XDG_RUNTIME_DIR/wispr.sock)")
	flag.Usage = usage
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "run"
	}

	switch cmd {
	case "run":
		runDaemon(*configPath, *socketPath)
	case "status", "begin", "end", "toggle", "cancel":
		forward(cmd, *configPath, *socketPath)
	case "devices":
		listDevices()
	case "models":
		listModels(*configPath)
	case "download":
		download(*configPath, flag.Arg(1))
	case "init-config":
		initConfig()
	default:
		fmt.Fprintf(os.Stderr, "wisprd: unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `usage: wisprd [flags] [command]

Commands:
  run             start the dictation daemon (default)
  status          show the daemon session state
  begin           start a recording session
  end             stop recording and insert the transcription
  toggle          begin or end depending on current state
  cancel          discard the in-flight recording
  devices         list capture devices
  models          list speech models and their status
  download <id>   fetch and validate a speech model
  init-config     write the default config file

Flags:
`)
	flag.PrintDefaults()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "wisprd: "+format+"\n", args...)
	os.Exit(1)
}
