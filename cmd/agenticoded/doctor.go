//go:build linux

package main

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/agenticode/agenticoded/internal/config"
)

type doctorCheck struct {
	Name    string
	Status  string
	Details string
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that this host can run the session manager daemon",
	RunE:  runDoctor,
}

func runDoctor(cmd *cobra.Command, args []string) error {
	checks := make([]doctorCheck, 0, 8)
	failures := 0

	if runtime.GOOS != "linux" {
		checks = append(checks, doctorCheck{Name: "Linux runtime", Status: "FAIL", Details: "agenticoded requires Linux"})
		failures++
	} else {
		checks = append(checks, doctorCheck{Name: "Linux runtime", Status: "OK", Details: runtime.GOOS})
	}

	if os.Geteuid() == 0 {
		checks = append(checks, doctorCheck{Name: "Privileges", Status: "OK", Details: "running as root, sandboxing available"})
	} else {
		checks = append(checks, doctorCheck{Name: "Privileges", Status: "WARN", Details: "not root: SANDBOX_ENABLED sessions will fail to allocate"})
	}

	cfg, err := config.Load()
	if err != nil {
		checks = append(checks, doctorCheck{Name: "Configuration", Status: "FAIL", Details: err.Error()})
		failures++
		printDoctorReport(checks, failures)
		return nil
	}
	checks = append(checks, doctorCheck{Name: "Configuration", Status: "OK", Details: "loaded from environment"})

	if ok, details := checkWritableDir(cfg.WorkspacesPath); ok {
		checks = append(checks, doctorCheck{Name: "Workspaces path", Status: "OK", Details: details})
	} else {
		checks = append(checks, doctorCheck{Name: "Workspaces path", Status: "FAIL", Details: details})
		failures++
	}

	if cfg.SandboxEnabled {
		if ok, details := checkWritableDir(cfg.SandboxHomeDir); ok {
			checks = append(checks, doctorCheck{Name: "Sandbox home base", Status: "OK", Details: details})
		} else {
			checks = append(checks, doctorCheck{Name: "Sandbox home base", Status: "WARN", Details: details})
		}
	}

	if _, err := exec.LookPath(cfg.Agent.Path); err != nil {
		checks = append(checks, doctorCheck{Name: "Agent binary", Status: "WARN", Details: fmt.Sprintf("%q not found on PATH", cfg.Agent.Path)})
	} else {
		checks = append(checks, doctorCheck{Name: "Agent binary", Status: "OK", Details: cfg.Agent.Path})
	}

	if _, err := exec.LookPath(cfg.IDE.BinaryPath); err != nil {
		checks = append(checks, doctorCheck{Name: "IDE binary", Status: "WARN", Details: fmt.Sprintf("%q not found on PATH, code-server endpoints will fail", cfg.IDE.BinaryPath)})
	} else {
		checks = append(checks, doctorCheck{Name: "IDE binary", Status: "OK", Details: cfg.IDE.BinaryPath})
	}

	if cfg.Storage.Endpoint == "" {
		checks = append(checks, doctorCheck{Name: "Object storage endpoint", Status: "WARN", Details: "STORAGE_ENDPOINT unset"})
	} else {
		checks = append(checks, doctorCheck{Name: "Object storage endpoint", Status: "OK", Details: cfg.Storage.Endpoint})
	}

	printDoctorReport(checks, failures)
	if failures > 0 {
		return fmt.Errorf("doctor found %d blocking issue(s)", failures)
	}
	return nil
}

func printDoctorReport(checks []doctorCheck, failures int) {
	fmt.Println("agenticoded doctor")
	for _, check := range checks {
		fmt.Printf("[%s] %-24s %s\n", check.Status, check.Name, check.Details)
	}
	if failures > 0 {
		fmt.Printf("\nDoctor found %d blocking issue(s).\n", failures)
		return
	}
	fmt.Println("\nDoctor checks passed.")
}

func checkWritableDir(path string) (bool, string) {
	if path == "" {
		return false, "path not configured"
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false, fmt.Sprintf("%s does not exist", path)
	}
	if err != nil {
		return false, err.Error()
	}
	if !info.IsDir() {
		return false, fmt.Sprintf("%s is not a directory", path)
	}
	probe := path + "/.agenticoded-doctor-probe"
	if f, err := os.Create(probe); err != nil {
		return false, fmt.Sprintf("%s is not writable: %v", path, err)
	} else {
		f.Close()
		os.Remove(probe)
	}
	return true, path
}
