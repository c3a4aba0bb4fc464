// Package rawsock is a link driver for linux network interfaces, EtherCAT
// frames are sent and received through an AF_PACKET raw socket bound to
// ethertype 0x88A4. Opening requires CAP_NET_RAW.
//
// Import it for its side effect of registering the "rawsock" driver:
//
//	import _ "github.com/samsamfire/goethercat/pkg/link/rawsock"
package rawsock
