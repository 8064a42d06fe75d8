package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/dcrodman/hl7mllp/internal/certs"
)

func certgenCommand() *cli.Command {
	return &cli.Command{
		Name:  "certgen",
		Usage: "hl7mllp certgen --host 127.0.0.1",
		Description: "Generates a self-signed X.509 certificate and key for the server.tls section " +
			"of the config file. Prompts for the hosts when none are given.",
		Action: certgen,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "host",
				Usage: "IP address or DNS name the certificate is valid for (repeatable)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Directory the files are written to",
				Value: "./",
			},
			&cli.DurationFlag{
				Name:  "valid-for",
				Usage: "Lifetime of the certificate",
				Value: certs.DefaultValidity,
			},
		},
	}
}

func certgen(cc *cli.Context) error {
	hosts := cc.StringSlice("host")
	if len(hosts) == 0 {
		// Read in a list of hosts.
		scanner := bufio.NewScanner(os.Stdin)
		for {
			fmt.Print("host (blank to finish): ")
			if !scanner.Scan() || strings.TrimSpace(scanner.Text()) == "" {
				break
			}
			hosts = append(hosts, strings.TrimSpace(scanner.Text()))
		}
	}

	certPEM, keyPEM, err := certs.Generate(hosts, cc.Duration("valid-for"))
	if err != nil {
		return err
	}

	certFile := filepath.Join(cc.String("out"), certs.CertificateFilename)
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		return fmt.Errorf("error writing certificate %s: %w", certFile, err)
	}
	fmt.Printf("wrote %s\n", certFile)

	keyFile := filepath.Join(cc.String("out"), certs.PrivateKeyFilename)
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		return fmt.Errorf("error writing key %s: %w", keyFile, err)
	}
	fmt.Printf("wrote %s\n", keyFile)

	fmt.Printf("\nDone! Reference %s and %s from the server.tls section of config.yaml "+
		"(cert_file and key_file) and distribute %s to the peers that connect.\n",
		certFile, keyFile, certFile)
	return nil
}
