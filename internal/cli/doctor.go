// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// doctor.go - Doctor command implementation for gpuinfo.
//
// Command: doctor
// Short:   Diagnose why GPUs are or are not reported
// Aliases: diag
//
// Health Checks Performed:
//  1. Config            - configuration file parses and validates
//  2. DRM sysfs         - the DRM class directory is readable (Linux)
//  3. Device nodes      - /dev/dri exists, so hotplug can use inotify (Linux)
//  4. amd-smi           - the AMD tool is on PATH (Linux, optional)
//  5. One per vendor    - which detection strategy answered, and why the
//     others did not
//  6. GPUs              - at least one GPU was found
//
// Exit Codes:
//
//	0   No check failed (warnings allowed)
//	1   One or more checks failed
package cli

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/jeranaias/gpuinfo/internal/config"
	"github.com/jeranaias/gpuinfo/internal/hotplug"
	"github.com/jeranaias/gpuinfo/internal/platform/sysfs"
	"github.com/jeranaias/gpuinfo/pkg/gpuinfo"
	"github.com/jeranaias/gpuinfo/pkg/model"
)

// =============================================================================
// HEALTH CHECK TYPES
// =============================================================================

// CheckStatus represents the status of a health check.
type CheckStatus int

const (
	// CheckPass indicates the check passed successfully.
	CheckPass CheckStatus = iota
	// CheckWarn indicates the check passed with warnings.
	CheckWarn
	// CheckFail indicates the check failed.
	CheckFail
)

// String returns the string representation of the check status.
func (s CheckStatus) String() string {
	switch s {
	case CheckPass:
		return "pass"
	case CheckWarn:
		return "warn"
	case CheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Symbol returns the bracketed status marker.
func (s CheckStatus) Symbol() string {
	switch s {
	case CheckPass:
		return SuccessStyle.Render("[OK]")
	case CheckWarn:
		return WarningStyle.Render("[!!]")
	case CheckFail:
		return ErrorStyle.Render("[FAIL]")
	default:
		return "?"
	}
}

// HealthCheck represents a single health check result.
type HealthCheck struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // Suggested fix command or instruction
}

// Render returns a formatted string representation of the health check.
func (c *HealthCheck) Render() string {
	result := fmt.Sprintf("%s %s", c.Status.Symbol(), ValueStyle.Render(c.Message))
	if c.Status != CheckPass && c.Fix != "" {
		result += "\n" + DimStyle.Render("     -> "+c.Fix)
	}
	return result
}

// =============================================================================
// DOCTOR ENVIRONMENT
// =============================================================================

// doctorEnv is everything the checks look at.
type doctorEnv struct {
	goos     string
	cfg      *config.Config
	cfgErr   error
	cfgPath  string
	census   *gpuinfo.Census
	stat     func(string) (os.FileInfo, error)
	readDir  func(string) ([]os.DirEntry, error)
	lookPath func(string) (string, error)
}

// vendorFixes suggests what to install when a vendor has no working strategy.
var vendorFixes = map[model.Vendor]string{
	model.VendorNVIDIA: "Install the NVIDIA driver (provides libnvidia-ml) or set nvml.library",
	model.VendorAMD:    "Load the amdgpu driver or install ROCm amd-smi",
	model.VendorIntel:  "Load the i915 or xe driver",
}

// =============================================================================
// HANDLE DOCTOR
// =============================================================================

// HandleDoctor handles the "doctor" command.
func HandleDoctor(args Args) error {
	env := doctorEnv{
		goos:     runtime.GOOS,
		stat:     os.Stat,
		readDir:  os.ReadDir,
		lookPath: exec.LookPath,
	}

	env.cfg, env.cfgErr = loadConfigQuiet(args)
	env.cfgPath = args.ConfigPath
	if env.cfgPath == "" {
		env.cfgPath, _ = config.ConfigPathTOML()
	}

	cfg := env.cfg
	if cfg == nil {
		cfg = config.Default()
	}
	logger := newLogger(cfg, args, false)
	m := newManager(cfg, logger)
	if err := m.Initialize(); err == nil {
		if c, err := m.Census(); err == nil {
			env.census = &c
		}
		defer m.Cleanup()
	}

	checks := runAllChecks(env)

	passed, warned, failed := 0, 0, 0
	for _, check := range checks {
		switch check.Status {
		case CheckPass:
			passed++
		case CheckWarn:
			warned++
		case CheckFail:
			failed++
		}
	}

	var result error
	if failed > 0 {
		result = fmt.Errorf("%d health check(s) failed", failed)
	}

	if args.JSON {
		return handleDoctorJSON(checks, passed, warned, failed, result)
	}

	fmt.Fprintln(stdout, TitleStyle.Render("gpuinfo Doctor"))
	for _, check := range checks {
		fmt.Fprintln(stdout, check.Render())
	}
	fmt.Fprintln(stdout)

	summaryParts := []string{fmt.Sprintf("%d passed", passed)}
	if warned > 0 {
		summaryParts = append(summaryParts, WarningStyle.Render(fmt.Sprintf("%d warning", warned)))
	}
	if failed > 0 {
		summaryParts = append(summaryParts, ErrorStyle.Render(fmt.Sprintf("%d failed", failed)))
	}
	fmt.Fprintln(stdout, DimStyle.Render(strings.Join(summaryParts, ", ")))

	return result
}

// loadConfigQuiet is loadConfig without the stderr warning; doctor reports
// the problem as a check instead.
func loadConfigQuiet(args Args) (*config.Config, error) {
	if args.ConfigPath != "" {
		return config.LoadFromPath(args.ConfigPath)
	}
	return config.Load()
}

// handleDoctorJSON outputs doctor results in JSON format.
func handleDoctorJSON(checks []*HealthCheck, passed, warned, failed int, result error) error {
	jsonChecks := make([]DoctorCheck, 0, len(checks))
	for _, check := range checks {
		jsonChecks = append(jsonChecks, DoctorCheck{
			Name:    check.Name,
			Status:  check.Status.String(),
			Message: check.Message,
			Fix:     check.Fix,
		})
	}

	resp := NewJSONResponse("doctor", DoctorData{
		Checks: jsonChecks,
		Summary: DoctorSummary{
			Passed:  passed,
			Warned:  warned,
			Failed:  failed,
			Healthy: failed == 0,
		},
	})
	if result != nil {
		errMsg := result.Error()
		resp.Success = false
		resp.Error = &errMsg
	}
	if err := resp.Print(); err != nil {
		return err
	}
	return result
}

// =============================================================================
// HEALTH CHECK FUNCTIONS
// =============================================================================

// runAllChecks runs all health checks and returns the results.
func runAllChecks(env doctorEnv) []*HealthCheck {
	checks := []*HealthCheck{checkConfig(env)}

	if env.goos == "linux" {
		root := "/sys"
		if env.cfg != nil {
			root = env.cfg.Sysfs.Root
		}
		checks = append(checks,
			checkDRMSysfs(env, filepath.Join(root, "class", "drm")),
			checkDeviceNodes(env),
			checkAMDSMI(env),
		)
	}

	checks = append(checks, checkVendors(env)...)
	checks = append(checks, checkGPUs(env))
	return checks
}

func checkConfig(env doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Config"}

	switch {
	case env.cfg == nil:
		check.Status = CheckFail
		check.Message = fmt.Sprintf("Config invalid: %v", env.cfgErr)
		check.Fix = "Fix the file or run: gpuinfo config init --force"
	case env.cfgErr != nil:
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Config file ignored: %v", env.cfgErr)
		check.Fix = "Fix the file or run: gpuinfo config init --force"
	default:
		check.Status = CheckPass
		check.Message = "Config valid"
		if env.cfgPath != "" {
			if _, err := env.stat(env.cfgPath); err != nil {
				check.Message = "Config valid (using defaults)"
			}
		}
	}
	return check
}

func checkDRMSysfs(env doctorEnv, dir string) *HealthCheck {
	check := &HealthCheck{Name: "DRM sysfs"}

	entries, err := env.readDir(dir)
	if err != nil {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("Cannot read %s: %v", dir, err)
		check.Fix = "Mount sysfs, or set sysfs.root when running in a container"
		return check
	}

	cards := 0
	for _, e := range entries {
		if sysfs.IsCardName(e.Name()) {
			cards++
		}
	}
	if cards == 0 {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("No DRM cards under %s", dir)
		check.Fix = "Check that a GPU kernel driver is loaded (lsmod | grep -E 'amdgpu|i915|xe|nvidia')"
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("%d DRM card(s) under %s", cards, dir)
	return check
}

func checkDeviceNodes(env doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "Device nodes"}
	if _, err := env.stat(hotplug.DefaultDevDir); err != nil {
		check.Status = CheckWarn
		check.Message = fmt.Sprintf("%s missing; hotplug will poll sysfs", hotplug.DefaultDevDir)
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("%s present; hotplug uses inotify", hotplug.DefaultDevDir)
	return check
}

func checkAMDSMI(env doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "amd-smi"}
	path, err := env.lookPath("amd-smi")
	if err != nil {
		check.Status = CheckPass
		check.Message = "amd-smi not installed (optional; sysfs is used for AMD)"
		return check
	}
	check.Status = CheckPass
	check.Message = "amd-smi found at " + path
	return check
}

// checkVendors reports one check per vendor backend from the census.
func checkVendors(env doctorEnv) []*HealthCheck {
	if env.census == nil {
		return []*HealthCheck{{
			Name:    "Backends",
			Status:  CheckFail,
			Message: "GPU library failed to initialize",
		}}
	}

	checks := make([]*HealthCheck, 0, len(env.census.Vendors))
	for _, v := range env.census.Vendors {
		check := &HealthCheck{Name: v.Vendor.String()}
		switch {
		case v.Err != nil:
			check.Status = CheckWarn
			check.Message = fmt.Sprintf("%s: no working backend (%s)", v.Vendor, attemptSummary(v))
			check.Fix = vendorFixes[v.Vendor]
		case v.Count == 0:
			check.Status = CheckPass
			check.Message = fmt.Sprintf("%s: no devices (via %s)", v.Vendor, v.Strategy)
		default:
			check.Status = CheckPass
			check.Message = fmt.Sprintf("%s: %d GPU(s) via %s", v.Vendor, v.Count, v.Strategy)
		}
		checks = append(checks, check)
	}
	return checks
}

func attemptSummary(v gpuinfo.VendorCount) string {
	if len(v.Attempts) == 0 {
		return v.Error
	}
	parts := make([]string, 0, len(v.Attempts))
	for _, a := range v.Attempts {
		if a.Err != "" {
			parts = append(parts, a.Strategy+": "+a.Err)
		} else {
			parts = append(parts, fmt.Sprintf("%s: %d device(s)", a.Strategy, a.Count))
		}
	}
	return strings.Join(parts, "; ")
}

func checkGPUs(env doctorEnv) *HealthCheck {
	check := &HealthCheck{Name: "GPUs"}
	if env.census == nil {
		check.Status = CheckFail
		check.Message = "GPU count unavailable"
		return check
	}
	if env.census.NoDevice {
		check.Status = CheckWarn
		check.Message = "No GPUs detected"
		check.Fix = "Run with --verbose to see each detection attempt"
		return check
	}
	check.Status = CheckPass
	check.Message = fmt.Sprintf("%d GPU(s) detected", env.census.Total)
	return check
}
