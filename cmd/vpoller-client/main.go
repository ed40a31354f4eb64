// vpoller-client runs one vPoller item the way the Zabbix agent would.
//
//	vpoller-client -key vpoller vm.get vc01.example.org vm01 runtime.powerState
//	vpoller-client -key vpoller.echo hello
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vpoller-module/config"
	"vpoller-module/module"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("vpoller-client", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "config file (default $VPOLLER_CONFIG or "+config.DefaultPath+")")
	key := fs.String("key", module.KeyVPoller, "item key: vpoller or vpoller.echo")
	itemTimeout := fs.Duration("item-timeout", 0, "host item timeout, warns when a call can exceed it")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: vpoller-client [flags] <method> <hostname> <name> <properties> [key] [username password]\n\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	m, err := module.Init(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "init: %v\n", err)
		return 2
	}
	defer m.Uninit()

	if *itemTimeout > 0 {
		m.SetItemTimeout(*itemTimeout)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	res := m.Handle(ctx, *key, fs.Args())
	if !res.OK {
		fmt.Fprintf(stderr, "%s (after %s)\n", res.Message, time.Since(start).Round(time.Millisecond))
		return 1
	}
	fmt.Fprintln(stdout, res.Value)
	return 0
}
