// The hl7mllp command runs HL7v2 listeners and provides tooling for working
// with MLLP traffic.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := app().Run(os.Args); err != nil {
		fmt.Printf("hl7mllp error: %v\n", err)
		os.Exit(1)
	}
}

func app() *cli.App {
	app := cli.NewApp()
	app.Name = "hl7mllp"
	app.Usage = "HL7v2 over MLLP server"
	app.Commands = []*cli.Command{
		serveCommand(),
		sniffCommand(),
		certgenCommand(),
	}
	return app
}
