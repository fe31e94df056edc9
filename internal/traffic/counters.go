// Package traffic reads per-interface byte counters from sysfs.
package traffic

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const sysClassNet = "/sys/class/net"

// Counters are cumulative byte counts since the interface came up
type Counters struct {
	RX uint64
	TX uint64
}

// Reader reads counters below Root, /sys/class/net when empty
type Reader struct {
	Root string
}

// Read returns the current counters for iface
func (r Reader) Read(iface string) (Counters, error) {
	root := r.Root
	if root == "" {
		root = sysClassNet
	}
	rx, err := readUint64File(filepath.Join(root, iface, "statistics/rx_bytes"))
	if err != nil {
		return Counters{}, err
	}
	tx, err := readUint64File(filepath.Join(root, iface, "statistics/tx_bytes"))
	if err != nil {
		return Counters{}, err
	}
	return Counters{RX: rx, TX: tx}, nil
}

// Sampler tracks counter deltas between successive samples of one interface
type Sampler struct {
	Reader Reader

	mu    sync.Mutex
	iface string
	last  Counters
	valid bool
}

// Sample returns the current counters and the bytes moved since the previous
// sample. The first sample, or one after a counter reset, has a zero delta.
func (s *Sampler) Sample(iface string) (now, delta Counters, err error) {
	now, err = s.Reader.Read(iface)
	if err != nil {
		return Counters{}, Counters{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.valid && s.iface == iface && now.RX >= s.last.RX && now.TX >= s.last.TX {
		delta = Counters{RX: now.RX - s.last.RX, TX: now.TX - s.last.TX}
	}
	s.iface = iface
	s.last = now
	s.valid = true
	return now, delta, nil
}

func readUint64File(path string) (uint64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, fmt.Errorf("%s: empty", path)
	}
	val, err := strconv.ParseUint(strings.TrimSpace(scanner.Text()), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return val, nil
}
