package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/streamcore/internal/httpstream"
	"github.com/ethan/streamcore/internal/listen"
	"github.com/ethan/streamcore/internal/logger"
	srv "github.com/ethan/streamcore/internal/rtmp/server"
	"github.com/ethan/streamcore/internal/source"
	"github.com/ethan/streamcore/internal/webrtc"
)

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		// flag package already printed usage/error
		os.Exit(2)
	}
	if cfg.showVersion {
		fmt.Println(version)
		return
	}

	// Initialize global logger and set level based on flag
	logger.Init()
	if err := logger.SetLevel(cfg.logLevel); err != nil {
		fmt.Printf("Warning: invalid log level %q, using default\n", cfg.logLevel)
	}
	log := logger.Logger().With("component", "cli")

	// Set up signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// RtcSource lives alongside the RTMP registry: published WebRTC
	// sessions, RTMP publishes, and HTTP-FLV/HLS/DASH playback all fan
	// out of the same source.Manager, keyed by "app/stream" the way
	// internal/rtmp/server's Registry already keys its Streams.
	rtc := source.NewManager(source.Config{}, log.With("component", "source"))
	go rtc.RunSweeper(10*time.Second, ctx.Done())
	segLog := log.With("component", "segmenters")
	rtc.SetOnCreate(func(s *source.Source) { registerSegmenters(s, cfg, segLog) })

	server := srv.New(srv.Config{
		ListenAddr:    cfg.listenAddr,
		ChunkSize:     uint32(cfg.chunkSize),
		WindowAckSize: 2_500_000, // matches control burst constant
		RecordAll:     cfg.recordAll,
		RecordDir:     cfg.recordDir,
		LogLevel:      cfg.logLevel,
		SourceManager: rtc,
	})

	if err := server.Start(); err != nil {
		log.Error("failed to start server", "error", err)
		os.Exit(1)
	}

	log.Info("server started", "addr", server.Addr().String(), "version", version)

	webrtcMgr := webrtc.NewManager(rtc, log.With("component", "webrtc"))
	// udpSession is referenced by its own packet handler (the shared
	// socket is both the classifier's input and STUN/DTLS's output), so
	// it is declared before NewUDP closes over it.
	var udpSession *listen.UDPSession
	udpSession = listen.NewUDP(log.With("component", "webrtc-udp"), func(dctx context.Context, buf []byte, addr net.Addr) error {
		return webrtcMgr.Dispatch(udpSession)(dctx, buf, addr)
	})
	if webrtcAddr, err := udpSession.Start(ctx, "udp", cfg.webrtcListenAddr); err != nil {
		log.Error("failed to start webrtc udp listener", "error", err)
	} else {
		log.Info("webrtc udp listener started", "addr", webrtcAddr.String())
	}

	dirs := httpstream.StaticDirLookup{HLSRoot: cfg.hlsOutputDir, DASHRoot: cfg.dashOutputDir}
	httpSrv := httpstream.NewServer(rtc, dirs, httpstream.Config{}, log.With("component", "httpstream"))
	httpListener := &http.Server{Addr: cfg.httpListenAddr, Handler: httpSrv.Router()}
	go func() {
		if err := httpListener.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http-flv/hls/dash server stopped", "error", err)
		}
	}()
	log.Info("http-flv/hls/dash server started", "addr", cfg.httpListenAddr)

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// Perform shutdown in a separate goroutine in case it blocks; we just wait or force exit on timeout.
	done := make(chan struct{})
	go func() {
		if err := server.Stop(); err != nil {
			log.Error("server stop error", "error", err)
		}
		if err := udpSession.Stop(); err != nil {
			log.Error("webrtc udp listener stop error", "error", err)
		}
		if err := httpListener.Shutdown(shutdownCtx); err != nil {
			log.Error("http-flv/hls/dash server shutdown error", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		log.Info("server stopped cleanly")
	case <-shutdownCtx.Done():
		log.Error("forced exit after timeout")
	}
}
