package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"

	"github.com/dcrodman/hl7mllp/internal/sniffer"
)

func sniffCommand() *cli.Command {
	return &cli.Command{
		Name:        "sniff",
		Usage:       "hl7mllp sniff [--port N] [--dump] capture.pcap",
		Description: "Prints the HL7 messages exchanged in a pcap capture of MLLP traffic.",
		Action:      sniff,
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Only decode flows to or from this port",
			},
			&cli.BoolFlag{
				Name:  "dump",
				Usage: "Print a hex dump of every frame",
			},
		},
	}
}

func sniff(cc *cli.Context) error {
	if cc.NArg() != 1 {
		return cli.Exit("expected the path of one pcap file", 1)
	}
	port := cc.Uint("port")
	if port > 65535 {
		return cli.Exit("port must be at most 65535", 1)
	}

	f, err := os.Open(cc.Args().First())
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	s := &sniffer.Sniffer{Port: uint16(port)}
	return s.ReadPcap(f, func(frame sniffer.Frame) error {
		fmt.Fprintf(w, "[%s] %s -> %s (%d bytes)\n",
			frame.Timestamp.Format("2006-01-02 15:04:05.000"), frame.Src, frame.Dst, len(frame.Payload))

		if frame.Message != nil {
			fmt.Fprintln(w, strings.ReplaceAll(frame.Message.String(), "\r", "\n"))
		} else {
			fmt.Fprintln(w, "(not an HL7 message)")
		}
		if cc.Bool("dump") {
			fmt.Fprint(w, spew.Sdump(frame.Payload))
		}
		fmt.Fprintln(w)
		return nil
	})
}
