// Package logging writes the two append-only appliance logs: the operator
// log kept under /var/log and the user-facing "what happened" log in the
// owner's home directory. System log lines are mirrored into logrus.
package logging

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	SystemTag = "wifi-auto-recover"
	UserTag   = "wifi-recovery"

	// TimeLayout prefixes every line
	TimeLayout = "2006-01-02 15:04:05"

	userLogName = "wifi_recovery.log"
)

// Dual appends timestamped lines to the system and user logs.
// Write failures are reported to the operator logger at debug and dropped.
type Dual struct {
	systemPath string
	userPath   string
	log        logrus.FieldLogger
	now        func() time.Time

	mu sync.Mutex
}

// NewDual creates a logger. An empty userPath disables the user log.
func NewDual(systemPath, userPath string, log logrus.FieldLogger) *Dual {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Dual{
		systemPath: systemPath,
		userPath:   userPath,
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces the timestamp source
func (d *Dual) SetClock(now func() time.Time) {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
}

func (d *Dual) SystemPath() string { return d.systemPath }
func (d *Dual) UserPath() string   { return d.userPath }

// System records an operator-facing event
func (d *Dual) System(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	d.log.Info(msg)
	if d.systemPath == "" {
		return
	}
	d.append(d.systemPath, SystemTag, msg)
}

// User records an event for the appliance owner
func (d *Dual) User(format string, args ...any) {
	if d.userPath == "" {
		return
	}
	d.append(d.userPath, UserTag, fmt.Sprintf(format, args...))
}

// PrepareUserLog creates the user log file so its owner can find it early
func (d *Dual) PrepareUserLog() {
	if d.userPath == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(d.userPath), 0o755); err != nil {
		d.log.WithError(err).Debugf("Unable to prepare user Wi-Fi log %s", d.userPath)
		return
	}
	f, err := os.OpenFile(d.userPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		d.log.WithError(err).Debugf("Unable to prepare user Wi-Fi log %s", d.userPath)
		return
	}
	f.Close()
}

func (d *Dual) append(path, tag, msg string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	line := fmt.Sprintf("%s [%s] %s\n", d.now().Format(TimeLayout), tag, msg)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		d.log.WithError(err).Debugf("Unable to append to %s", path)
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		d.log.WithError(err).Debugf("Unable to append to %s", path)
		return
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		d.log.WithError(err).Debugf("Unable to append to %s", path)
	}
}

// ResolveUserLog picks the user log path: the explicit override, else the
// home of the invoking sudo user, else /home/pi, else /root.
func ResolveUserLog(override string) string {
	return resolveUserLog(override, os.Getenv, lookupHome, exists)
}

func resolveUserLog(override string, getenv func(string) string, lookupHome func(string) (string, error), exists func(string) bool) string {
	if override != "" {
		return override
	}

	var home string
	if sudoUser := getenv("SUDO_USER"); sudoUser != "" && sudoUser != "root" {
		if dir, err := lookupHome(sudoUser); err == nil {
			home = dir
		}
	}
	if home == "" || !exists(home) {
		if exists("/home/pi") {
			home = "/home/pi"
		} else {
			home = "/root"
		}
	}
	return filepath.Join(home, userLogName)
}

func lookupHome(name string) (string, error) {
	u, err := user.Lookup(name)
	if err != nil {
		return "", err
	}
	return u.HomeDir, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
