package simulator

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Kind names a supported simulator.
type Kind string

const (
	Gem5 Kind = "gem5"
)

var registered = []Kind{
	Gem5,
}

// IsSupported reports whether s names a registered simulator kind.
func IsSupported(s string) bool {
	for _, k := range registered {
		if string(k) == s {
			return true
		}
	}
	return false
}

// Kinds returns the registered simulator kinds.
func Kinds() []Kind {
	out := make([]Kind, len(registered))
	copy(out, registered)
	return out
}

// UsageValues renders the registered kinds for flag help text.
func UsageValues() string {
	names := make([]string, 0, len(registered))
	for _, k := range registered {
		names = append(names, string(k))
	}
	return strings.Join(names, "|")
}

// DefaultDebugFlags enables the XLS device trace in gem5.
const DefaultDebugFlags = "XlsDev"

// Gem5Paths returns the debug build and the rv32 platform config script
// under a gem5 checkout.
func Gem5Paths(root string) (executable, platformConfig string) {
	return filepath.Join(root, "build", "RISCV", "gem5.debug"),
		filepath.Join(root, "configs", "rv32", "rv32.py")
}

// Command describes one simulator invocation.
type Command struct {
	Executable     string
	DebugFlags     string
	PlatformConfig string
	Firmware       string
	Plugin         string
	XLSConfig      string

	// Dir is the working directory; empty means the current one.
	Dir string
}

// Args returns the argument list in the order the simulator expects.
func (c Command) Args() []string {
	return []string{
		"--debug-flags=" + c.DebugFlags,
		"--listener-mode=on",
		c.PlatformConfig,
		"--firmware", c.Firmware,
		"--xls-plugin", c.Plugin,
		"--xls-config", c.XLSConfig,
	}
}

// Validate checks that every path needed to launch is set.
func (c Command) Validate() error {
	missing := []string{}
	for _, f := range []struct {
		name, value string
	}{
		{"executable", c.Executable},
		{"platform config", c.PlatformConfig},
		{"firmware", c.Firmware},
		{"plugin", c.Plugin},
		{"xls config", c.XLSConfig},
	} {
		if f.value == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("simulator command missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// String renders the command line with shell quoting, for logs.
func (c Command) String() string {
	parts := append([]string{c.Executable}, c.Args()...)
	for i, p := range parts {
		parts[i] = shellQuote(p)
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	safe := true
	for _, r := range s {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || strings.ContainsRune("@%+=:,./-_", r)) {
			safe = false
			break
		}
	}
	if safe {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
