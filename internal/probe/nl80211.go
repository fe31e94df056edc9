package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"sync"

	"github.com/mdlayher/wifi"
)

// NL80211Link queries the kernel over nl80211 instead of shelling out to iw
type NL80211Link struct {
	mu sync.Mutex
	cl *wifi.Client
}

func (l *NL80211Link) client() (*wifi.Client, error) {
	if l.cl != nil {
		return l.cl, nil
	}
	cl, err := wifi.New()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrUnavailable
		}
		return nil, fmt.Errorf("open nl80211: %w", err)
	}
	l.cl = cl
	return cl, nil
}

func (l *NL80211Link) Link(ctx context.Context, iface string) (LinkInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cl, err := l.client()
	if err != nil {
		return LinkInfo{}, err
	}

	ifaces, err := cl.Interfaces()
	if err != nil {
		return LinkInfo{}, fmt.Errorf("nl80211 interfaces: %w", err)
	}
	var ifi *wifi.Interface
	for _, x := range ifaces {
		if x.Name == iface {
			ifi = x
			break
		}
	}
	if ifi == nil {
		return LinkInfo{}, fmt.Errorf("nl80211: no wireless interface %s", iface)
	}

	bss, err := cl.BSS(ifi)
	if err != nil {
		// Not associated
		if errors.Is(err, fs.ErrNotExist) {
			return LinkInfo{}, nil
		}
		return LinkInfo{}, fmt.Errorf("nl80211 bss %s: %w", iface, err)
	}

	info := LinkInfo{
		Associated: true,
		SSID:       bss.SSID,
		BSSID:      bss.BSSID.String(),
		FreqMHz:    bss.Frequency,
	}
	if stas, err := cl.StationInfo(ifi); err == nil {
		for _, sta := range stas {
			if bytes.Equal(sta.HardwareAddr, bss.BSSID) {
				info.SignalDBM = sta.Signal
				if sta.TransmitBitrate > 0 {
					info.TxBitrate = strconv.FormatFloat(float64(sta.TransmitBitrate)/1e6, 'f', 1, 64) + " MBit/s"
				}
				break
			}
		}
	}
	return info, nil
}

// Close releases the nl80211 socket
func (l *NL80211Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cl == nil {
		return nil
	}
	err := l.cl.Close()
	l.cl = nil
	return err
}
