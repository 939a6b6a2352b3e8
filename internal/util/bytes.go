// Package util holds small formatting helpers shared by the CLI and the
// acquisition engine's log lines.
package util

import "fmt"

// FormatBytes formats a byte count into a human readable string (KB, MB,
// GB, ...), matching the acquisition engine's log and status output.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}

	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
