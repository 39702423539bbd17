// Command idevice-pair trusts a single attached device and exits, for
// operators who need to click "Trust" once on-device before an unattended
// process like idevice-agent can run against it.
package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"idevicekit"
	"idevicekit/internal/config"
)

var (
	udid      = flag.String("udid", "", "target device serial (empty = first device)")
	pollEvery = flag.Duration("poll", 300*time.Millisecond, "interval between mux Process() polls while waiting for the device")
	attempts  = flag.Int("attempts", 20, "number of polls before giving up")
)

func main() {
	flag.Parse()

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
		log.Fatalf("pair: %v", err)
	}
	defer session.Close()

	fmt.Printf("paired with %s\n", handle.SerialString())
}
