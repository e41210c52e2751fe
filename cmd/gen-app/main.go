// Command gen-app is the traffic generator: it runs either as a server
// role that accepts and drains connections, or a client role that holds a
// steady pool of outbound connections sending pseudo-random payloads.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"netpulse/internal/cliutil"
	"netpulse/internal/config"
	"netpulse/internal/genclient"
	"netpulse/internal/genserver"
	"netpulse/internal/logging"
)

func main() {
	addrFlag := flag.String("addr", "", "address to listen on (server mode) or connect to (client mode) (required)")
	mode := flag.String("mode", "", "operating mode: server or client (required)")
	connections := flag.Int("connections", 1, "client mode: number of concurrent connections to hold open")
	seed := flag.Uint("seed", 1, "client mode: PRNG seed for per-connection payload sizes")
	configPath := flag.String("config", "", "optional YAML file overriding the flags above")
	flag.Parse()

	addrStr := *addrFlag
	modeStr := *mode
	connCount := *connections
	seedVal := uint32(*seed)

	if *configPath != "" {
		cfg, err := config.LoadGenApp(*configPath)
		if err != nil {
			log.Fatalf("gen-app: %v", err)
		}
		if cfg.Addr != "" {
			addrStr = cfg.Addr
		}
		if cfg.Mode != "" {
			modeStr = cfg.Mode
		}
		if cfg.Connections != 0 {
			connCount = cfg.Connections
		}
		if cfg.Seed != 0 {
			seedVal = cfg.Seed
		}
	}

	addr, err := cliutil.ParseAddr(addrStr)
	if err != nil {
		log.Fatalf("gen-app: %v", err)
	}

	switch modeStr {
	case "server":
		runServer(addr)
	case "client":
		runClient(addr, connCount, seedVal)
	default:
		fmt.Fprintf(os.Stderr, "gen-app: invalid mode %q (want server or client)\n", modeStr)
		flag.Usage()
		os.Exit(1)
	}
}

func runServer(addr cliutil.Addr) {
	srv, err := genserver.New(addr, logging.Noop())
	if err != nil {
		log.Fatalf("gen-app: %v", err)
	}
	defer srv.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("gen-app: shutdown signal received")
		srv.Stop()
	}()

	log.Printf("gen-app: server listening on %s", addr)
	if err := srv.Run(nil); err != nil {
		log.Fatalf("gen-app: %v", err)
	}
}

func runClient(addr cliutil.Addr, connections int, seed uint32) {
	pool, err := genclient.New(genclient.Config{
		Host:        addr.Host,
		Port:        addr.Port,
		Connections: connections,
		Seed:        seed,
	}, logging.Noop())
	if err != nil {
		log.Fatalf("gen-app: %v", err)
	}
	defer pool.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("gen-app: shutdown signal received")
		pool.Stop()
	}()

	log.Printf("gen-app: client holding %d connections to %s", connections, addr)
	if err := pool.Run(nil); err != nil {
		log.Fatalf("gen-app: %v", err)
	}
}
