//go:build linux

package sandbox

import "strings"

// standardUserBins is the PATH handed to a sandboxed process — deliberately
// narrow, mirroring the teacher's nsinit.go minimal PATH for the re-exec'd
// child ("/usr/local/bin:/usr/bin:/bin").
const standardUserBins = "/usr/local/bin:/usr/bin:/bin"

// SandboxEnv returns baseEnv rewritten so HOME/USER/LOGNAME/PWD point at the
// sandbox user, PATH is restricted, and the XDG directories are rooted in
// the private home so agent config/caches never leak into the workspace,
// per spec.md §4.1.
func SandboxEnv(u *User, baseEnv []string) []string {
	drop := map[string]bool{
		"HOME": true, "USER": true, "LOGNAME": true, "PWD": true, "PATH": true,
		"XDG_CONFIG_HOME": true, "XDG_CACHE_HOME": true, "XDG_DATA_HOME": true,
		"XDG_STATE_HOME": true, "XDG_RUNTIME_DIR": true,
	}

	out := make([]string, 0, len(baseEnv)+10)
	for _, kv := range baseEnv {
		key, _, ok := strings.Cut(kv, "=")
		if ok && drop[key] {
			continue
		}
		out = append(out, kv)
	}

	out = append(out,
		"HOME="+u.HomeDir,
		"USER="+u.Username,
		"LOGNAME="+u.Username,
		"PWD="+u.WorkspaceDir,
		"PATH="+standardUserBins,
		"XDG_CONFIG_HOME="+u.HomeDir+"/.config",
		"XDG_CACHE_HOME="+u.HomeDir+"/.cache",
		"XDG_DATA_HOME="+u.HomeDir+"/.local/share",
		"XDG_STATE_HOME="+u.HomeDir+"/.local/state",
		"XDG_RUNTIME_DIR="+u.HomeDir+"/.runtime",
	)
	return out
}
