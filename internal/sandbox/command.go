//go:build linux

package sandbox

import (
	"fmt"
	"strings"
)

// ResourceLimits mirrors the rlimit preamble spec.md §4.1 calls for.
// Virtual-memory and data-segment limits are intentionally absent: some
// agent runtimes reserve large virtual address ranges and RLIMIT_AS/
// RLIMIT_DATA would wrongly kill them.
type ResourceLimits struct {
	MaxProcs    int // RLIMIT_NPROC
	MaxOpenFiles int // RLIMIT_NOFILE
	MaxFileSizeMB int // RLIMIT_FSIZE
	CPUSeconds  int // RLIMIT_CPU
	StackKB     int // RLIMIT_STACK
	CoreDumpKB  int // RLIMIT_CORE
}

// DefaultResourceLimits are the manager's standard per-session limits.
func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxProcs:      256,
		MaxOpenFiles:  4096,
		MaxFileSizeMB: 1024,
		CPUSeconds:    0, // 0 = unlimited; sessions are bounded by idle/lifetime instead
		StackKB:       8192,
		CoreDumpKB:    0,
	}
}

// BuildSandboxedCommand wraps cmd/args so they execute as user u via `su`,
// optionally preceded by a shell-level ulimit preamble. Grounded on the
// teacher's nsinit.go privilege-drop (there, Setuid inside a re-exec'd
// child; here, `su` is the drop point because the isolation unit is an OS
// user rather than a namespace re-exec).
func BuildSandboxedCommand(u *User, cmd string, args []string, applyLimits bool, limits ResourceLimits) (string, []string) {
	full := cmd
	if len(args) > 0 {
		full = cmd + " " + shellJoin(args)
	}

	if applyLimits {
		full = ulimitPreamble(limits) + full
	}

	// su -s /bin/sh -c '<full>' <username>
	return "su", []string{"-s", "/bin/sh", "-c", full, u.Username}
}

func ulimitPreamble(l ResourceLimits) string {
	var b strings.Builder
	if l.MaxProcs > 0 {
		fmt.Fprintf(&b, "ulimit -u %d; ", l.MaxProcs)
	}
	if l.MaxOpenFiles > 0 {
		fmt.Fprintf(&b, "ulimit -n %d; ", l.MaxOpenFiles)
	}
	if l.MaxFileSizeMB > 0 {
		fmt.Fprintf(&b, "ulimit -f %d; ", l.MaxFileSizeMB*1024)
	}
	if l.CPUSeconds > 0 {
		fmt.Fprintf(&b, "ulimit -t %d; ", l.CPUSeconds)
	}
	if l.StackKB > 0 {
		fmt.Fprintf(&b, "ulimit -s %d; ", l.StackKB)
	}
	fmt.Fprintf(&b, "ulimit -c %d; ", l.CoreDumpKB)
	return b.String()
}

func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}
