package netlink

import (
	"fmt"
	"sync"
	"syscall"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"github.com/sirupsen/logrus"
)

// Netlink message types (from syscall)
const (
	RTM_NEWLINK = syscall.RTM_NEWLINK // 16
	RTM_DELLINK = syscall.RTM_DELLINK // 17
)

// rtnetlink multicast group for link state changes
const rtmgrpLink = 0x1

// Watcher wakes the monitor when the supervised interface changes link state
type Watcher struct {
	conn   *netlink.Conn
	iface  string
	notify func()
	log    logrus.FieldLogger

	mu        sync.Mutex
	lastState string // up:carrier of the last event, to drop duplicates
	closed    bool
}

// NewWatcher subscribes to link events for iface. notify must not block.
func NewWatcher(iface string, notify func(), log logrus.FieldLogger) (*Watcher, error) {
	conn, err := netlink.Dial(syscall.NETLINK_ROUTE, &netlink.Config{
		Groups: rtmgrpLink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial netlink: %w", err)
	}
	return newWatcher(conn, iface, notify, log), nil
}

func newWatcher(conn *netlink.Conn, iface string, notify func(), log logrus.FieldLogger) *Watcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Watcher{
		conn:   conn,
		iface:  iface,
		notify: notify,
		log:    log.WithField("iface", iface),
	}
}

// Close stops Run
func (w *Watcher) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	w.mu.Unlock()
	w.conn.Close()
}

func (w *Watcher) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Run receives events until Close
func (w *Watcher) Run() {
	for {
		msgs, err := w.conn.Receive()
		if err != nil {
			if w.isClosed() {
				return
			}
			w.log.WithError(err).Debug("netlink receive error")
			continue
		}
		for _, msg := range msgs {
			w.handleRawMessage(msg)
		}
	}
}

func (w *Watcher) handleRawMessage(msg netlink.Message) {
	switch msg.Header.Type {
	case RTM_NEWLINK:
		w.handleLinkMessage(msg.Data, false)
	case RTM_DELLINK:
		w.handleLinkMessage(msg.Data, true)
	}
}

func (w *Watcher) handleLinkMessage(data []byte, isRemoved bool) {
	var msg rtnetlink.LinkMessage
	if err := msg.UnmarshalBinary(data); err != nil {
		w.log.WithError(err).Debug("failed to parse link message")
		return
	}

	isUp := msg.Attributes.OperationalState == rtnetlink.OperStateUp
	hasCarrier := msg.Attributes.Carrier != nil && *msg.Attributes.Carrier == 1
	w.handleLink(msg.Attributes.Name, isUp, hasCarrier, isRemoved)
}

// handleLink notifies on the first event after any change of up/carrier
// state and on removal of the interface. Other interfaces are ignored.
func (w *Watcher) handleLink(name string, isUp, hasCarrier, isRemoved bool) bool {
	if name != w.iface {
		return false
	}

	key := fmt.Sprintf("%v:%v", isUp, hasCarrier)
	if isRemoved {
		key = "removed"
	}

	w.mu.Lock()
	changed := w.lastState != key
	w.lastState = key
	w.mu.Unlock()
	if !changed {
		return false
	}

	if isRemoved {
		w.log.Info("RTM_DELLINK: interface removed")
	} else {
		w.log.WithFields(logrus.Fields{"up": isUp, "carrier": hasCarrier}).Info("RTM_NEWLINK: link state changed")
	}
	if w.notify != nil {
		w.notify()
	}
	return true
}
