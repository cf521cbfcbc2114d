// llctl runs the Link Layer controller and serves HCI over a serial
// port, for bring-up against a host stack.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/go-serial/serial"
	"github.com/urfave/cli"

	"github.com/edgeble/llc"
	"github.com/edgeble/llc/hci"
	"github.com/edgeble/llc/hci/h4"
	"github.com/edgeble/llc/ll"
)

func main() {
	app := cli.NewApp()

	app.Name = "llctl"
	app.Usage = "BLE Link Layer controller over an H4 serial port"
	app.Version = "0.1.0"
	app.Action = cli.ShowAppHelp

	app.Commands = []cli.Command{
		{
			Name:   "serve",
			Usage:  "Serve the controller on a serial port",
			Action: serve,
			Flags: []cli.Flag{
				cli.StringFlag{Name: "port, p", Value: "/dev/ttyUSB0", Usage: "serial port"},
				cli.UintFlag{Name: "baud, b", Value: 115200, Usage: "baud rate"},
				cli.StringFlag{Name: "addr, a", Value: "aa:bb:cc:dd:ee:ff", Usage: "public device address"},
				cli.IntFlag{Name: "conns, c", Value: 4, Usage: "connection slots"},
				cli.StringFlag{Name: "whitelist, w", Usage: "whitelist file to load and persist"},
				cli.BoolFlag{Name: "verbose, v", Usage: "debug logging"},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	if c.Bool("verbose") {
		llc.SetLogLevelMax()
	}
	logger := llc.GetLogger()

	ctrl, err := ll.NewController(&nullRadio{}, ll.WallClock{},
		llc.OptPublicAddress(llc.NewAddr(c.String("addr"))),
		llc.OptConnectionSlots(c.Int("conns")),
		llc.OptErrorHandler(func(err error) {
			logger.Errorf("controller: %v", err)
		}),
	)
	if err != nil {
		return err
	}
	defer ctrl.Close()

	wlFile := c.String("whitelist")
	if wlFile != "" {
		if err := ctrl.Whitelist().Load(wlFile); err != nil {
			logger.Warnf("whitelist: %v", err)
		}
	}

	proc := hci.NewProcessor(ctrl)
	srv, err := h4.New(serial.OpenOptions{
		PortName: c.String("port"),
		BaudRate: c.Uint("baud"),
		DataBits: 8,
		StopBits: 1,
	}, proc)
	if err != nil {
		return err
	}
	defer srv.Close()

	logger.Infof("serving on %s", c.String("port"))
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	if wlFile != "" {
		if err := ctrl.Whitelist().Store(wlFile); err != nil {
			logger.Warnf("whitelist: %v", err)
		}
	}
	return nil
}

// nullRadio accepts every operation and never reports traffic. It
// stands in for a real baseband during HCI plumbing bring-up.
type nullRadio struct {
	h ll.RadioHandler
}

func (r *nullRadio) SetChannel(ch uint8, accessAddr, crcInit uint32) error { return nil }

func (r *nullRadio) Transmit(b []byte, hint ll.Transition) error {
	if r.h != nil {
		r.h.TxDone(0)
	}
	return nil
}

func (r *nullRadio) Receive(hint ll.Transition) error { return nil }
func (r *nullRadio) Disable() error                   { return nil }
func (r *nullRadio) SetHandler(h ll.RadioHandler)     { r.h = h }
