package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const (
	exitOK = iota
	exitUsage
	exitConnection
	exitProtocol
)

func main() {
	os.Exit(exitCode(mainErr()))
}

type Config struct {
	host        string
	port        string
	rate        int
	size        int
	count       int
	metricsAddr string
	network     string

	helloTimeout     time.Duration
	recvTimeout      time.Duration
	analysisInterval time.Duration
	joinTimeout      time.Duration
}

func defaultConfig() Config {
	return Config{
		rate:             100,
		size:             100,
		network:          "udp",
		helloTimeout:     5 * time.Second,
		recvTimeout:      100 * time.Millisecond,
		analysisInterval: 100 * time.Millisecond,
		joinTimeout:      time.Second,
	}
}

var errUsage = errors.New("usage")

func (c *Config) validate() error {
	switch {
	case c.host == "" || c.port == "":
		return fmt.Errorf("%w: host and port are required", errUsage)
	case c.rate <= 0:
		return fmt.Errorf("%w: rate must be positive", errUsage)
	case c.size < 8:
		return fmt.Errorf("%w: size must be at least 8 bytes", errUsage)
	case c.count < 0:
		return fmt.Errorf("%w: count must not be negative", errUsage)
	}
	return nil
}

func parseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	conf := defaultConfig()
	fs.IntVar(&conf.rate, "rate", conf.rate, "packets per second")
	fs.IntVar(&conf.size, "size", conf.size, "packet size (bytes)")
	fs.IntVar(&conf.count, "count", 0, "seconds to run, 0 to run until interrupted")
	fs.StringVar(&conf.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "usage: %s [options] host port\n", fs.Name())
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return conf, err
		}
		return conf, fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return conf, fmt.Errorf("%w: expected host and port, got %d arguments", errUsage, fs.NArg())
	}
	conf.host, conf.port = fs.Arg(0), fs.Arg(1)
	return conf, conf.validate()
}

func mainErr() error {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	conf, err := parseFlags(flag.NewFlagSet(os.Args[0], flag.ContinueOnError), os.Args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return Client(ctx, conf, os.Stdout)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case errors.Is(err, context.Canceled):
		log.Print(err)
		return exitOK
	case errors.Is(err, ErrConnection):
		log.Print(err)
		return exitConnection
	case errors.Is(err, ErrProtocol):
		log.Print(err)
		return exitProtocol
	default:
		log.Print(err)
		return exitUsage
	}
}
