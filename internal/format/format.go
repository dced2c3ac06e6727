// Package format holds pure timestamp-formatting glue.
package format

import "fmt"

// Duration renders an age in seconds the way host listings show
// "last connected" timestamps.
func Duration(seconds int64) string {
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d seconds ago", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d minutes ago", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("%d hours ago", seconds/3600)
	default:
		return fmt.Sprintf("%d days ago", seconds/86400)
	}
}
