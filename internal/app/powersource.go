package app

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// OnExternalPower reports whether the host is on mains power. Hosts
// without a battery count as charging.
func OnExternalPower() bool {
	switch runtime.GOOS {
	case "darwin":
		out, err := exec.Command("pmset", "-g", "batt").Output()
		if err != nil {
			return true
		}
		return parsePmset(string(out))
	case "linux":
		return sysfsOnMains("/sys/class/power_supply")
	default:
		return true
	}
}

// parsePmset reads the first line of `pmset -g batt`, which names the
// active source: "Now drawing from 'AC Power'".
func parsePmset(out string) bool {
	first, _, _ := strings.Cut(out, "\n")
	return !strings.Contains(first, "Battery Power")
}

// sysfsOnMains inspects the kernel's power supply class. Any online mains
// supply, or no battery at all, means external power.
func sysfsOnMains(root string) bool {
	entries, err := os.ReadDir(root)
	if err != nil {
		return true
	}

	sawBattery := false
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		switch readTrim(filepath.Join(dir, "type")) {
		case "Mains", "USB":
			if readTrim(filepath.Join(dir, "online")) == "1" {
				return true
			}
		case "Battery":
			sawBattery = true
			if readTrim(filepath.Join(dir, "status")) == "Charging" {
				return true
			}
		}
	}
	return !sawBattery
}

func readTrim(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
