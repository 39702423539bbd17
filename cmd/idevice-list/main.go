// Command idevice-list enumerates attached devices and prints their
// identifying lockdown fields, the Go analog of core.py's --list-targets
// branch (spec.md §8 scenario S1 made into an operator tool).
package main

import (
	"fmt"
	"log"

	"idevicekit"
	"idevicekit/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	devices, err := idevicekit.ListDevices(cfg)
	if err != nil {
		log.Fatalf("list devices: %v", err)
	}

	fmt.Printf("%-10s %-20s %-16s %s\n", "serial", "product type", "baseband", "name")
	for _, handle := range devices {
		info, err := idevicekit.DeviceInfo(cfg, handle)
		if err != nil {
			log.Printf("device %s: %v", handle.SerialString(), err)
			continue
		}
		productType, _ := info["ProductType"].(string)
		baseband, _ := info["BasebandVersion"].(string)
		name, _ := info["DeviceName"].(string)
		fmt.Printf("%-10s %-20s %-16s %s\n", handle.SerialString(), productType, baseband, name)
	}
}
