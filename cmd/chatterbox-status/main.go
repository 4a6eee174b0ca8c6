// Package main prints a one-line chatterbox status for shell prompts and
// terminal status bars.
package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/chatterbox/internal/config"
)

// Status is the subset of /api/status shown on the line.
type Status struct {
	Sessions           int  `json:"sessions"`
	Unread             int  `json:"unread"`
	PendingInvitations int  `json:"pending_invitations"`
	Snoozed            int  `json:"snoozed"`
	DoNotDisturb       bool `json:"do_not_disturb"`
}

type state int

const (
	stateOffline state = iota
	stateStarting
	stateReady
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorRed    = "\033[31m"
)

func main() {
	addr := flag.String("addr", "", "Daemon address (default: settings or CHATTERBOX_LISTEN)")
	format := flag.String("format", envOr("CHATTERBOX_STATUS_FORMAT", "default"), "Output format: default, compact or minimal")
	flag.Parse()

	if *addr == "" {
		*addr = config.GetListenAddr()
	}

	st, stats := fetchStatus(*addr)
	fmt.Println(formatStatusLine(st, stats, *format, useColors()))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// useColors is on unless NO_COLOR is set or TERM is dumb;
// CHATTERBOX_STATUS_COLORS forces either way.
func useColors() bool {
	switch os.Getenv("CHATTERBOX_STATUS_COLORS") {
	case "true":
		return true
	case "false":
		return false
	}
	return os.Getenv("NO_COLOR") == "" && os.Getenv("TERM") != "dumb"
}

// fetchStatus asks the daemon for its counters. It must be fast, so any
// failure reads as offline.
func fetchStatus(addr string) (state, *Status) {
	if strings.HasPrefix(addr, ":") {
		addr = "127.0.0.1" + addr
	}
	client := &http.Client{Timeout: 200 * time.Millisecond}

	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		return stateOffline, nil
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusServiceUnavailable:
		return stateStarting, nil
	default:
		return stateOffline, nil
	}

	var stats Status
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return stateOffline, nil
	}
	return stateReady, &stats
}

func paint(on bool, color, s string) string {
	if !on {
		return s
	}
	return color + s + colorReset
}

func formatStatusLine(st state, stats *Status, format string, colors bool) string {
	prefix := paint(colors, colorCyan, "[im]")
	switch {
	case st == stateStarting:
		return prefix + " " + paint(colors, colorYellow, "◐") + " starting"
	case st == stateOffline || stats == nil:
		return prefix + " " + paint(colors, colorGray, "○")
	}

	switch format {
	case "compact":
		return formatCompact(stats, colors)
	case "minimal":
		return formatMinimal(stats, colors)
	default:
		return formatDefault(prefix, stats, colors)
	}
}

// formatDefault: [im] ● sessions:3 | unread:5 | invites:1 | dnd
func formatDefault(prefix string, stats *Status, colors bool) string {
	parts := []string{fmt.Sprintf("sessions:%d", stats.Sessions)}
	if stats.Unread > 0 {
		parts = append(parts, paint(colors, colorYellow, fmt.Sprintf("unread:%d", stats.Unread)))
	}
	if stats.PendingInvitations > 0 {
		parts = append(parts, paint(colors, colorYellow, fmt.Sprintf("invites:%d", stats.PendingInvitations)))
	}
	if stats.Snoozed > 0 {
		parts = append(parts, fmt.Sprintf("snoozed:%d", stats.Snoozed))
	}
	if stats.DoNotDisturb {
		parts = append(parts, paint(colors, colorRed, "dnd"))
	}
	return prefix + " " + indicator(stats, colors) + " " + strings.Join(parts, " | ")
}

// formatCompact: [i] ● 3/5/1
func formatCompact(stats *Status, colors bool) string {
	return fmt.Sprintf("%s %s %d/%d/%d",
		paint(colors, colorCyan, "[i]"), indicator(stats, colors),
		stats.Sessions, stats.Unread, stats.PendingInvitations)
}

// formatMinimal: ● 5
func formatMinimal(stats *Status, colors bool) string {
	return fmt.Sprintf("%s %d", indicator(stats, colors), stats.Unread)
}

func indicator(stats *Status, colors bool) string {
	if stats.DoNotDisturb {
		return paint(colors, colorRed, "●")
	}
	return paint(colors, colorGreen, "●")
}
