package asa

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ReadLinuxBootID reads the kernel's randomly generated boot id, which
// changes across every boot and lets a backend tell "two entries from the
// same boot" apart from "two entries straddling a reboot".
func ReadLinuxBootID() (string, error) {
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// readUptime returns system uptime, best-effort. On a read failure it
// returns zero rather than erroring, since uptime is a nice-to-have
// diagnostic field, not something collection should fail over.
func readUptime() time.Duration {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
