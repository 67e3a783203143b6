package version

import (
	"fmt"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

// PrintBanner displays the process startup banner to stderr — one per
// binary, so an operator tailing two terminals can tell server and worker
// apart at a glance.
func PrintBanner(binary, environment, listenAddr string) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	width := 60
	hr := lineColor + strings.Repeat("═", width) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
	fmt.Fprintf(os.Stderr, "%s  QUARTZQUEUE — %s%s\n\n", textColor, strings.ToUpper(binary), banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)

	kvPad := 12
	for _, kv := range [][2]string{
		{"Version", Version},
		{"Build", Build},
		{"Commit", GitCommit},
		{"Env", environment},
		{"Listen", listenAddr},
	} {
		fmt.Fprintf(os.Stderr, "%s  %-*s %s%s\n", textColor, kvPad, kv[0], kv[1], banner.ColorReset)
	}

	fmt.Fprintf(os.Stderr, "\n%s\n\n", hr)
}

// PrintShutdownBanner displays the shutdown banner to stderr.
func PrintShutdownBanner(binary string) {
	lineColor := banner.ColorCyan
	textColor := banner.ColorBold + banner.ColorWhite
	hr := lineColor + strings.Repeat("═", 42) + banner.ColorReset

	fmt.Fprintf(os.Stderr, "\n%s\n", hr)
	fmt.Fprintf(os.Stderr, "%s  %s — SHUTTING DOWN%s\n", textColor, strings.ToUpper(binary), banner.ColorReset)
	fmt.Fprintf(os.Stderr, "%s\n\n", hr)
}
