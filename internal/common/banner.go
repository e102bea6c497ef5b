package common

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ternarybob/banner"
)

const bannerWidth = 64

var bannerArt = []string{
	`  ___              _        __              _`,
	` / _ \ _   _  ___ | |_ ___ / _| ___  ___  __| |`,
	`| | | | | | |/ _ \| __/ _ \ |_ / _ \/ _ \/ _' |`,
	`| |_| | |_| | (_) | ||  __/  _|  __/  __/ (_| |`,
	` \__\_\\__,_|\___/ \__\___|_|  \___|\___|\__,_|`,
}

// bannerRows lists what an operator needs to know about a running instance:
// where it listens, which provider it calls and how often, and where data
// lands.
func bannerRows(config *Config) [][2]string {
	provider := config.Quotes.Provider
	if provider == "" {
		provider = "none (set quotes.provider)"
	}
	refresh := "off"
	if d := config.Quotes.GetRefreshInterval(); d > 0 {
		refresh = "every " + d.String()
	}
	return [][2]string{
		{"Version", fmt.Sprintf("%s (build %s, commit %s)", GetVersion(), GetBuild(), GetGitCommit())},
		{"Environment", config.Environment},
		{"Listening", "http://" + config.Server.Addr()},
		{"Provider", provider},
		{"Refresh", refresh},
		{"Call delay", config.Quotes.GetPostCallDelay().String()},
		{"Histories", fmt.Sprintf("%s (%s)", config.Storage.Path, config.Storage.Backend)},
		{"Throttle", config.Storage.ThrottleDir()},
		{"Portfolio", config.Portfolio.Path},
	}
}

// WriteBanner renders the startup banner to w.
func WriteBanner(w io.Writer, config *Config) {
	line := banner.ColorCyan + strings.Repeat("═", bannerWidth) + banner.ColorReset
	text := banner.ColorBold + banner.ColorWhite

	fmt.Fprintf(w, "\n%s\n\n", line)
	for _, art := range bannerArt {
		fmt.Fprintf(w, "%s%s%s\n", text, art, banner.ColorReset)
	}
	fmt.Fprintf(w, "\n%s  Throttled market quote acquisition%s\n\n%s\n\n", text, banner.ColorReset, line)

	for _, kv := range bannerRows(config) {
		fmt.Fprintf(w, "%s  %-12s%s %s\n", banner.ColorCyan, kv[0], banner.ColorReset, kv[1])
	}
	fmt.Fprintf(w, "\n%s\n\n", line)
}

// PrintBanner writes the startup banner to stderr and logs the same facts.
func PrintBanner(config *Config, logger *Logger) {
	WriteBanner(os.Stderr, config)

	logger.Info().
		Str("version", GetVersion()).
		Str("environment", config.Environment).
		Str("addr", config.Server.Addr()).
		Str("provider", config.Quotes.Provider).
		Dur("refresh", config.Quotes.GetRefreshInterval()).
		Str("storage", config.Storage.Path).
		Str("backend", config.Storage.Backend).
		Msg("Application started")
}

// PrintShutdownBanner writes the shutdown notice to stderr.
func PrintShutdownBanner(logger *Logger) {
	fmt.Fprintf(os.Stderr, "\n%s  quotefeed: shutting down, cancelling fetches%s\n\n",
		banner.ColorBold+banner.ColorYellow, banner.ColorReset)
	logger.Info().Msg("Application shutting down")
}
