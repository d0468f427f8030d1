//go:build linux

package tun

import (
	"fmt"

	"github.com/irctrakz/taplink/pkg/logging"
	"github.com/vishvananda/netlink"
)

// Configure applies optional link settings to an acquired interface: a
// positive mtu is set and up brings the link administratively up.
func Configure(name string, mtu int, up bool) error {
	if mtu <= 0 && !up {
		return nil
	}

	link, err := netlink.LinkByName(name)
	if err != nil {
		return fmt.Errorf("link %s not found: %w", name, err)
	}

	if mtu > 0 {
		if err := netlink.LinkSetMTU(link, mtu); err != nil {
			return fmt.Errorf("set mtu %d on %s: %w", mtu, name, err)
		}
	}
	if up {
		if err := netlink.LinkSetUp(link); err != nil {
			return fmt.Errorf("bring %s up: %w", name, err)
		}
	}

	logging.Debugf("Configured link %s mtu=%d up=%v", name, mtu, up)
	return nil
}
