// Command gattc is a small GATT client: scan for peripherals, read and
// write attributes, and watch notifications, over the BlueZ system bus.
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/urfave/cli"

	"github.com/calliere/gattc"
	"github.com/calliere/gattc/cache"
	"github.com/calliere/gattc/linux/bluez"
)

func main() {
	app := cli.NewApp()
	app.Name = "gattc"
	app.Usage = "GATT client over the system bus"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "adapter, i",
			Value: "hci0",
			Usage: "adapter to use",
		},
		cli.BoolFlag{
			Name:  "verbose, V",
			Usage: "trace logging",
		},
		cli.StringFlag{
			Name:  "cache",
			Usage: "device cache `FILE` to read and update",
		},
	}
	app.Before = func(c *cli.Context) error {
		if c.GlobalBool("verbose") {
			gattc.SetLogLevelMax()
		}
		return nil
	}
	app.Commands = []cli.Command{
		scanCommand(),
		readCommand(),
		writeCommand(),
		subscribeCommand(),
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func transport() (*bluez.Transport, error) {
	return bluez.New()
}

func scanCommand() cli.Command {
	return cli.Command{
		Name:  "scan",
		Usage: "discover nearby peripherals",
		Flags: []cli.Flag{
			cli.DurationFlag{
				Name:  "timeout, t",
				Value: 10 * time.Second,
				Usage: "scan window",
			},
			cli.BoolFlag{
				Name:  "live, l",
				Usage: "print devices as they are sighted",
			},
		},
		Action: func(c *cli.Context) error {
			tr, err := transport()
			if err != nil {
				return err
			}
			ds, err := gattc.NewDiscoveryService(tr, c.GlobalString("adapter"))
			if err != nil {
				return err
			}

			var handler gattc.DeviceHandler
			if c.Bool("live") {
				handler = gattc.DeviceHandlerFunc(func(name string, addr gattc.Addr) {
					fmt.Printf("%s  %s\n", addr, name)
				})
			}

			devices, err := ds.Discover(c.Duration("timeout"), handler)
			if err != nil {
				return err
			}

			addrs := make([]string, 0, len(devices))
			for a := range devices {
				addrs = append(addrs, a)
			}
			sort.Strings(addrs)
			for _, a := range addrs {
				fmt.Printf("%s  %s\n", a, devices[a])
			}

			if file := c.GlobalString("cache"); file != "" {
				if err := cache.New(file).Store(devices); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func connectFlags() []cli.Flag {
	return []cli.Flag{
		cli.StringFlag{
			Name:  "addr, a",
			Usage: "peripheral `ADDRESS`",
		},
		cli.DurationFlag{
			Name:  "request-timeout",
			Value: 30 * time.Second,
			Usage: "protocol timeout per request",
		},
	}
}

func connect(c *cli.Context) (*gattc.Requester, error) {
	addr := c.String("addr")
	if addr == "" {
		return nil, cli.NewExitError("an address is required (--addr)", 1)
	}
	tr, err := transport()
	if err != nil {
		return nil, err
	}
	return gattc.Connect(tr, addr, gattc.WithRequestTimeout(c.Duration("request-timeout")))
}

func parseHandle(s string) (uint16, error) {
	h, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("bad handle %q: %s", s, err)
	}
	return uint16(h), nil
}

func readCommand() cli.Command {
	return cli.Command{
		Name:  "read",
		Usage: "read an attribute by handle or by UUID",
		Flags: append(connectFlags(),
			cli.StringFlag{Name: "handle", Usage: "attribute `HANDLE`, e.g. 0x0015"},
			cli.StringFlag{Name: "uuid, u", Usage: "attribute type `UUID`, e.g. 2A00"},
		),
		Action: func(c *cli.Context) error {
			r, err := connect(c)
			if err != nil {
				return err
			}
			defer r.Disconnect()

			switch {
			case c.String("handle") != "":
				h, err := parseHandle(c.String("handle"))
				if err != nil {
					return err
				}
				b, err := r.ReadByHandle(h)
				if err != nil {
					return err
				}
				fmt.Printf("%x | %q\n", b, b)
				return nil

			case c.String("uuid") != "":
				u, err := gattc.Parse(c.String("uuid"))
				if err != nil {
					return err
				}
				bb, err := r.ReadByUUID(u)
				if err != nil {
					return err
				}
				for _, b := range bb {
					fmt.Printf("%x | %q\n", b, b)
				}
				return nil

			default:
				return cli.NewExitError("either --handle or --uuid is required", 1)
			}
		},
	}
}

func writeCommand() cli.Command {
	return cli.Command{
		Name:      "write",
		Usage:     "write an attribute by handle",
		ArgsUsage: "HEXBYTES",
		Flags: append(connectFlags(),
			cli.StringFlag{Name: "handle", Usage: "attribute `HANDLE`, e.g. 0x0015"},
			cli.BoolFlag{Name: "cmd", Usage: "use a write command (no acknowledgement)"},
		),
		Action: func(c *cli.Context) error {
			h, err := parseHandle(c.String("handle"))
			if err != nil {
				return err
			}
			value, err := hex.DecodeString(c.Args().First())
			if err != nil {
				return fmt.Errorf("bad value: %s", err)
			}

			r, err := connect(c)
			if err != nil {
				return err
			}
			defer r.Disconnect()

			if c.Bool("cmd") {
				return r.WriteCmd(h, value)
			}
			return r.WriteByHandle(h, value)
		},
	}
}

func subscribeCommand() cli.Command {
	return cli.Command{
		Name:  "subscribe",
		Usage: "print notifications and indications for a while",
		Flags: append(connectFlags(),
			cli.DurationFlag{
				Name:  "for",
				Value: 30 * time.Second,
				Usage: "how long to listen",
			},
		),
		Action: func(c *cli.Context) error {
			r, err := connect(c)
			if err != nil {
				return err
			}
			defer r.Disconnect()

			r.SetNotificationHandler(gattc.NotificationHandlerFunc(func(h uint16, value []byte) {
				fmt.Printf("%#04x: %x | %q\n", h, value, value)
			}))

			time.Sleep(c.Duration("for"))
			return nil
		},
	}
}
