package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"netloop/internal/core/listener"
	"netloop/internal/probe"
	"netloop/internal/shared/logger"
	"netloop/internal/shared/types"
)

func main() {
	transport := flag.String("transport", "stream", "stream|tcp or datagram|udp")
	addr := flag.String("addr", "127.0.0.1:8081", "Target host:port")
	message := flag.String("message", "Hello from client", "Payload to send")
	proxyURL := flag.String("proxy", "", "SOCKS5 proxy URL, e.g. socks5://127.0.0.1:1080 (stream only)")
	attempts := flag.Uint("attempts", probe.DefaultAttempts, "Maximum number of attempts")
	timeout := flag.Duration("timeout", probe.DefaultTimeout, "Per-attempt timeout")
	level := flag.String("loglevel", "info", "Log level")
	flag.Parse()

	if err := logger.Init(types.LogConf{Level: *level}); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	t, err := listener.ParseTransport(*transport)
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid transport")
	}
	client, err := probe.New(probe.Options{
		Transport: t,
		Address:   *addr,
		Proxy:     *proxyURL,
		Attempts:  *attempts,
		Timeout:   *timeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Invalid probe options")
	}

	log := logger.WithComponent("probe")
	ctx := log.WithContext(context.Background())
	start := time.Now()
	reply, err := client.Exchange(ctx, []byte(*message))
	if err != nil {
		logger.Fatal().Err(err).Str("target", *addr).Msg("Probe failed")
	}
	logger.Info().Str("target", *addr).Int("bytes", len(reply)).Msgf("Reply received in %s", time.Since(start))
	fmt.Println(string(reply))
}
