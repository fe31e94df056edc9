package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"wifimon/internal/command"
)

// ErrUnavailable means the tool backing a probe step is missing
var ErrUnavailable = errors.New("probe tool unavailable")

// LinkInfo is the radio-level view of one interface
type LinkInfo struct {
	Associated bool
	SSID       string
	BSSID      string
	SignalDBM  int    // 0 when unknown
	FreqMHz    int    // 0 when unknown
	TxBitrate  string // As reported, e.g. "72.2 MBit/s"
}

// LinkSource reports association state for an interface
type LinkSource interface {
	Link(ctx context.Context, iface string) (LinkInfo, error)
}

// IwLink reads `iw dev <iface> link`
type IwLink struct {
	Runner command.Runner
}

func (l IwLink) Link(ctx context.Context, iface string) (LinkInfo, error) {
	if !l.Runner.Available("iw") {
		return LinkInfo{}, ErrUnavailable
	}
	res := l.Runner.Run(ctx, "iw", "dev", iface, "link")
	if !res.OK() {
		return LinkInfo{}, fmt.Errorf("iw dev %s link: %s", iface, strings.TrimSpace(res.Stderr))
	}
	return ParseIwLink(res.Stdout), nil
}

// ParseIwLink parses `iw dev <iface> link` output
func ParseIwLink(out string) LinkInfo {
	var info LinkInfo
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "Connected to "):
			info.Associated = true
			if fields := strings.Fields(line); len(fields) >= 3 {
				info.BSSID = fields[2]
			}
		case strings.HasPrefix(line, "SSID:"):
			info.SSID = strings.TrimSpace(strings.TrimPrefix(line, "SSID:"))
		case strings.HasPrefix(line, "freq:"):
			if fields := strings.Fields(strings.TrimPrefix(line, "freq:")); len(fields) > 0 {
				if v, err := strconv.ParseFloat(fields[0], 64); err == nil {
					info.FreqMHz = int(v)
				}
			}
		case strings.HasPrefix(line, "signal:"):
			if fields := strings.Fields(line); len(fields) >= 2 {
				if v, err := strconv.Atoi(fields[1]); err == nil {
					info.SignalDBM = v
				}
			}
		case strings.HasPrefix(line, "tx bitrate:"):
			info.TxBitrate = strings.TrimSpace(strings.TrimPrefix(line, "tx bitrate:"))
		}
	}
	return info
}
