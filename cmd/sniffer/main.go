// Passive capture tool for the agent's control channel. Attaches to a
// network device with pcap, reassembles the length-prefixed frames flowing
// to and from the control port, and dumps each decoded JSON payload.
//
// Handy for debugging a controller without instrumenting either side.
package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/pcap"
	"github.com/spf13/pflag"

	"github.com/fixtool/fixtool/internal/frame"
)

var (
	device = pflag.StringP("device", "d", "lo", "Device on which to listen for packets")
	port   = pflag.Uint16P("port", "p", 11011, "Agent control port to watch")
)

func main() {
	pflag.Parse()

	handle, err := pcap.OpenLive(*device, math.MaxInt32, false, pcap.BlockForever)
	if err != nil {
		exit("error opening handle: %v", err)
	}
	if err := handle.SetBPFFilter(fmt.Sprintf("tcp and port %d", *port)); err != nil {
		exit("error setting filter: %v", err)
	}

	fmt.Printf("watching control traffic on %s port %d\n", *device, *port)

	s := sniffer{buffers: make(map[string]*frame.Buffer)}
	packetSource := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range packetSource.Packets() {
		s.handlePacket(packet)
	}
}

type sniffer struct {
	// One reassembly buffer per direction of each connection, keyed by the
	// flow endpoints.
	buffers map[string]*frame.Buffer
}

func (s *sniffer) handlePacket(packet gopacket.Packet) {
	transport := packet.TransportLayer()
	app := packet.ApplicationLayer()
	if transport == nil || app == nil || len(app.Payload()) == 0 {
		return
	}

	flow := transport.TransportFlow()
	srcPort := binary.BigEndian.Uint16(flow.Src().Raw())

	buf, ok := s.buffers[flow.String()]
	if !ok {
		buf = &frame.Buffer{}
		s.buffers[flow.String()] = buf
	}
	buf.Append(app.Payload())

	direction := "controller -> agent"
	if srcPort == *port {
		direction = "agent -> controller"
	}

	for {
		payload, ok := buf.Next()
		if !ok {
			return
		}

		var decoded map[string]interface{}
		if err := json.Unmarshal(payload, &decoded); err != nil {
			fmt.Printf("[%s] unparseable payload (%d bytes): %q\n", direction, len(payload), payload)
			continue
		}
		fmt.Printf("[%s] %s", direction, spew.Sdump(decoded))
	}
}

func exit(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
	os.Exit(1)
}
