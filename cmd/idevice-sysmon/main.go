// Command idevice-sysmon prints a live CPU/mem/FPS line for one process on
// an attached device, the direct translation of original_source/core.py's
// sysmontap + graphics.opengl demo loop (the bottom half of its
// run_cli_options function) into a standalone tool.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"idevicekit"
	"idevicekit/internal/config"
	"idevicekit/internal/telemetry"
)

var (
	udid      = flag.String("udid", "", "target device serial (empty = first device)")
	pid       = flag.Int64("pid", 0, "target process id")
	duration  = flag.Duration("duration", 200*time.Second, "how long to sample before exiting")
	pollEvery = flag.Duration("poll", 300*time.Millisecond, "interval between mux Process() polls while waiting for the device")
	attempts  = flag.Int("attempts", 20, "number of polls before giving up")
)

func main() {
	flag.Parse()
	if *pid == 0 {
		log.Fatal("-pid is required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	handle, err := idevicekit.FindDevice(cfg, *udid, *pollEvery, *attempts)
	if err != nil {
		log.Fatalf("find device: %v", err)
	}

	session, err := idevicekit.StartLockdown(cfg, handle)
	if err != nil {
		log.Fatalf("start lockdown: %v", err)
	}
	defer session.Close()

	service, err := idevicekit.StartService(session, "com.apple.instruments.remoteserver", false)
	if err != nil {
		log.Fatalf("start instruments service: %v", err)
	}

	rpc := idevicekit.RPCFromService(service, nil)
	defer rpc.Stop()

	profiler := telemetry.NewProfiler(*pid)
	if err := profiler.Start(rpc); err != nil {
		log.Fatalf("start profiler: %v", err)
	}

	fmt.Println("cpu\tmem(MB)\tvmem(GB)\tfps")
	deadline := time.Now().Add(*duration)
	for time.Now().Before(deadline) {
		time.Sleep(time.Second)
		s := profiler.Snapshot()
		fmt.Printf("%.2f\t%.2f\t%.2f\t%.1f\n", s.CPUUsage, s.PSSMemMB, s.VirtualMemGB, s.FPS)
	}
}
