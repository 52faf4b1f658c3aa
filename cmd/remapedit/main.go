// remapedit is the command-line front end of the remap config editor
// core: it lists input devices, watches their event streams, and checks
// configuration files the way the editing session does.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"remapedit/internal/capture"
	"remapedit/internal/device"
	"remapedit/internal/logging"
	"remapedit/internal/session"
)

var (
	logLevel = flag.String("log-level", "warn", "log level (off, error, warn, info, debug, trace)")
)

func main() {
	flag.Parse()

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	logging.SetDefault(logging.New(&logging.Config{Level: level, Output: os.Stderr, Component: "remapedit"}))

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	switch cmd := flag.Arg(0); cmd {
	case "devices":
		follow := flag.NArg() >= 2 && flag.Arg(1) == "-follow"
		cmdDevices(follow)
	case "watch":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: remapedit watch <device-path|device-name>")
			os.Exit(1)
		}
		cmdWatch(flag.Arg(1))
	case "check":
		if flag.NArg() < 2 {
			fmt.Fprintln(os.Stderr, "Usage: remapedit check <config.toml>")
			os.Exit(1)
		}
		cmdCheck(flag.Arg(1))
	case "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `remapedit - inspection tool for the key remap editor core

Usage: remapedit [options] <command> [args]

Commands:
  devices [-follow]   List input devices; -follow reprints on hotplug
  watch <device>      Print classified events from a device until interrupted
  check <config.toml> Load a config file and print its diagnostics
  help                Show this help message

Options:
  -log-level <level>  off, error, warn, info, debug or trace (default: warn)`)
}

func cmdDevices(follow bool) {
	printDevices()
	if !follow {
		return
	}

	w, err := device.NewWatcher("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error watching /dev/input: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case <-w.Ticks():
			fmt.Println()
			printDevices()
		case <-interrupt:
			return
		}
	}
}

func printDevices() {
	devices, err := device.Enumerate()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error enumerating devices: %v\n", err)
		os.Exit(1)
	}
	if len(devices) == 0 {
		fmt.Println("No input devices found.")
		return
	}
	for _, d := range devices {
		if !d.Available {
			fmt.Printf("%-22s (unavailable)\n", d.ID)
			continue
		}
		fmt.Printf("%-22s %s", d.ID, d.Name)
		if d.Phys != "" {
			fmt.Printf("  [%s]", d.Phys)
		}
		fmt.Println()
	}
}

func cmdWatch(target string) {
	dev, err := resolveDevice(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	readFailed := make(chan error, 1)
	sink := capture.SinkFunc(func(r capture.Record) {
		fmt.Printf("%s  %s\n", r.Time.Format("15:04:05.000"), r)
	})
	c, err := capture.Start(dev, sink, capture.Options{
		OnError: func(err error) { readFailed <- err },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer c.Stop()

	fmt.Fprintf(os.Stderr, "Watching %s (%s), Ctrl-C to stop.\n", dev.ID, dev.Name)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	select {
	case <-interrupt:
	case err := <-readFailed:
		fmt.Fprintf(os.Stderr, "Device read failed: %v\n", err)
		os.Exit(1)
	}
}

// resolveDevice accepts either a /dev/input/eventN path or a device name
// as reported by the kernel.
func resolveDevice(target string) (device.Device, error) {
	if !strings.HasPrefix(target, "/") {
		return device.Find(target, "")
	}

	devices, err := device.Enumerate()
	if err != nil {
		return device.Device{}, err
	}
	for _, d := range devices {
		if d.ID == target {
			return d, nil
		}
	}
	return device.Device{}, fmt.Errorf("no device at %s", target)
}

func cmdCheck(path string) {
	s := session.New()
	if err := s.LoadFile(path); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Bind the selector's device when it is present so capability
	// diagnostics apply; a missing device only downgrades the check.
	sel := s.Snapshot().Selector
	if sel.DeviceName != "" || sel.Phys != "" {
		dev, err := device.Find(sel.DeviceName, sel.Phys)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Note: %v; skipping capability checks\n", err)
		} else if err := s.BindDevice(dev); err != nil {
			fmt.Fprintf(os.Stderr, "Note: %v; skipping capability checks\n", err)
		}
	}

	diags := s.Diagnostics()
	if len(diags) == 0 {
		fmt.Println("OK: no findings")
		return
	}
	for _, d := range diags {
		fmt.Println(d)
	}
	if !s.SaveReady() {
		os.Exit(1)
	}
}
