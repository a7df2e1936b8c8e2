package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sebsto/wispr/internal/audio"
	"github.com/sebsto/wispr/internal/config"
	"github.com/sebsto/wispr/internal/ipc"
	"github.com/sebsto/wispr/internal/model"
)

// forward sends one control command to the running daemon and prints the
// resulting session state.
func forward(cmd, configPath, socketFlag string) {
	socket := resolveSocket(configPath, socketFlag)
	resp, err := ipc.Send(context.Background(), socket, ipc.Request{Command: cmd}, 2*time.Second)
	if err != nil {
		fatal("cannot reach daemon at %s: %v\nIs wisprd running?", socket, err)
	}
	if !resp.OK {
		fatal("%s", resp.Error)
	}
	if resp.Message != "" {
		fmt.Printf("%s: %s\n", resp.State, resp.Message)
		return
	}
	fmt.Println(resp.State)
}

func resolveSocket(configPath, socketFlag string) string {
	if socketFlag != "" {
		return socketFlag
	}
	if cfg, err := config.Resolve(configPath); err == nil && cfg.IPC.Socket != "" {
		return cfg.IPC.Socket
	}
	return ipc.DefaultSocketPath()
}

func listDevices() {
	engine, err := audio.New(audio.Config{}, nil)
	if err != nil {
		fatal("audio: %v", err)
	}
	defer engine.Close()

	devices, err := engine.Devices()
	if err != nil {
		fatal("enumerating devices: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("no capture devices found")
		return
	}
	for _, d := range devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %-32s %s\n", marker, d.Name, d.ID)
	}
}

func listModels(configPath string) {
	cfg := mustConfig(configPath)
	manager, err := model.NewManager(model.Config{Dir: cfg.Models.Dir}, nil)
	if err != nil {
		fatal("models: %v", err)
	}
	defer manager.Close()

	fmt.Printf("%-10s %8s  %-12s %s\n", "MODEL", "SIZE", "STATUS", "QUALITY")
	for _, info := range manager.Models() {
		fmt.Printf("%-10s %6d MB  %-12s %s\n", info.ID, info.SizeMB, info.State, info.Quality)
	}
}

func download(configPath, id string) {
	if id == "" {
		fatal("usage: wisprd download <model>")
	}
	cfg := mustConfig(configPath)
	manager, err := model.NewManager(model.Config{Dir: cfg.Models.Dir}, nil)
	if err != nil {
		fatal("models: %v", err)
	}
	defer manager.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stream, err := manager.Download(ctx, id)
	if err != nil {
		fatal("download: %v", err)
	}

	for p := range stream.Updates() {
		if p.Total > 0 {
			fmt.Fprintf(os.Stderr, "\rdownloading %s: %5.1f%% (%d/%d MB)",
				id, p.Fraction*100, p.Received>>20, p.Total>>20)
		} else {
			fmt.Fprintf(os.Stderr, "\rdownloading %s: %d MB", id, p.Received>>20)
		}
	}
	fmt.Fprintln(os.Stderr)

	if err := stream.Err(); err != nil {
		fatal("download failed: %v", err)
	}
	fmt.Printf("%s downloaded and validated\n", id)
}

func initConfig() {
	path, err := config.WriteDefault()
	if err != nil {
		fatal("init-config: %v", err)
	}
	if path == "" {
		fmt.Println("config file already exists, leaving it alone")
		return
	}
	fmt.Printf("wrote %s\n", path)
}

func mustConfig(configPath string) *config.Config {
	cfg, err := config.Resolve(configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	return cfg
}
