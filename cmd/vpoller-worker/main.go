// vpoller-worker is a stand-in vPoller proxy speaking the frame transport.
// It answers every task with a success document wrapping the task, and can
// publish itself in etcd for module discovery.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vpoller-module/config"
	"vpoller-module/logging"
	"vpoller-module/registry"
	"vpoller-module/worker"
)

type stubReply struct {
	Success int               `json:"success"`
	Msg     string            `json:"msg"`
	Result  []json.RawMessage `json:"result"`
}

func stub(_ context.Context, task []byte) ([]byte, error) {
	if !json.Valid(task) {
		return nil, fmt.Errorf("task is not a JSON document")
	}
	return json.Marshal(stubReply{
		Success: 0,
		Msg:     "Successfully processed task",
		Result:  []json.RawMessage{task},
	})
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("vpoller-worker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	listen := fs.String("listen", "127.0.0.1:10123", "listen address")
	advertise := fs.String("advertise", "", "endpoint published in etcd (default tcp://<listen>)")
	etcd := fs.String("etcd", "", "comma separated etcd endpoints; empty disables publishing")
	service := fs.String("service", "vpoller-proxy", "service name to publish under")
	level := fs.String("log-level", "info", "log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := logging.New(config.LogConfig{Level: *level, Outputs: []string{"stderr"}})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	defer logger.Sync()

	svr := worker.New(stub, logger)

	if *etcd != "" {
		reg, err := registry.NewEtcdRegistry(strings.Split(*etcd, ","), 5*time.Second, logger)
		if err != nil {
			logger.Error("connect to etcd", zap.Error(err))
			return 1
		}
		defer reg.Close()

		addr := *advertise
		if addr == "" {
			addr = "tcp://" + *listen
		}
		svr.Publish(reg, *service, addr)
	}

	errc := make(chan error, 1)
	go func() { errc <- svr.Serve("tcp", *listen) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case <-sig:
		logger.Info("shutting down")
		if err := svr.Shutdown(5 * time.Second); err != nil {
			logger.Error("shutdown", zap.Error(err))
			return 1
		}
	case err := <-errc:
		if err != nil {
			logger.Error("serve", zap.Error(err))
			return 1
		}
	}
	return 0
}
