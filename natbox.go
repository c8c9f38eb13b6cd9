package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/florianl/go-nfqueue"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/version"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"go.universe.tf/nattable/config"
	"go.universe.tf/nattable/flowtable"
)

func natbox(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err, 1)
	}
	log.Infof("Starting natbox %s", version.Info())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	table, err := buildTable(cfg, flowtable.NewMetrics(reg))
	if err != nil {
		return cli.Exit(err, 1)
	}
	log.Infof("Loaded %d static mappings", table.Len())

	lan, err := net.InterfaceByName(cfg.LANInterface)
	if err != nil {
		log.Fatalf("Getting %s interface info: %s", cfg.LANInterface, err)
	}
	wan, err := net.InterfaceByName(cfg.WANInterface)
	if err != nil {
		log.Fatalf("Getting %s interface info: %s", cfg.WANInterface, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddress != "" {
		go serveMetrics(ctx, cfg.MetricsAddress, reg)
	}
	go dumpOnSignal(ctx, table)

	queue, err := nfqueue.Open(&nfqueue.Config{
		NfQueue:      cfg.Queue,
		MaxPacketLen: cfg.MaxPacketLen,
		MaxQueueLen:  cfg.MaxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
		ReadTimeout:  10 * time.Millisecond,
		WriteTimeout: 15 * time.Millisecond,
	})
	if err != nil {
		log.Fatalf("Connecting to NFQUEUE: %s", err)
	}
	defer queue.Close()

	p := &pipeline{
		translator: NewTranslator(table),
		lanIndex:   uint32(lan.Index),
		wanIndex:   uint32(wan.Index),
	}
	process := func(a nfqueue.Attribute) int {
		if a.PacketID == nil {
			return 0
		}
		var (
			inDev   uint32
			payload []byte
			err     error
		)
		if a.InDev != nil {
			inDev = *a.InDev
		}
		if a.Payload != nil {
			payload = *a.Payload
		}

		verdict, mangled := p.process(inDev, payload)

		switch verdict {
		case VerdictAccept:
			err = queue.SetVerdict(*a.PacketID, nfqueue.NfAccept)
		case VerdictDrop:
			err = queue.SetVerdict(*a.PacketID, nfqueue.NfDrop)
		case VerdictMangle:
			err = queue.SetVerdictModPacket(*a.PacketID, nfqueue.NfAccept, mangled)
		}
		if err != nil {
			log.Warnf("Setting %s verdict on packet %d: %s", verdict, *a.PacketID, err)
		}

		return 0
	}
	err = queue.Register(ctx, process)
	if err != nil {
		log.Fatalf("Couldn't register packet processor: %s", err)
	}

	log.Infof("Translating between %s and %s on queue %d", cfg.LANInterface, cfg.WANInterface, cfg.Queue)
	<-ctx.Done()
	log.Info("Exiting")

	return nil
}

// pipeline routes packets to the translator by ingress interface.
type pipeline struct {
	translator *Translator
	lanIndex   uint32
	wanIndex   uint32
}

// process returns the verdict for a packet, and the bytes to send on
// if the verdict is VerdictMangle.
func (p *pipeline) process(inDev uint32, payload []byte) (Verdict, []byte) {
	pkt := NewPacket(payload)
	if pkt == nil {
		// We don't know how to handle this kind of packet
		return VerdictDrop, nil
	}

	verdict := VerdictDrop
	switch inDev {
	case p.lanIndex:
		verdict = p.translator.MangleOutbound(pkt)
	case p.wanIndex:
		verdict = p.translator.MangleInbound(pkt)
	}
	if verdict != VerdictMangle {
		return verdict, nil
	}
	return verdict, pkt.Bytes()
}

// buildTable returns a table holding cfg's static mappings. Two
// mappings claiming the same flow are a configuration error.
func buildTable(cfg *config.Config, metrics *flowtable.Metrics) (*flowtable.Table, error) {
	mappings, err := cfg.Flows()
	if err != nil {
		return nil, err
	}
	table := flowtable.New(flowtable.WithMetrics(metrics))
	for i, m := range mappings {
		if err := table.Insert(m.Internal, m.External); err != nil {
			return nil, errors.Wrapf(err, "static mapping %d", i)
		}
		log.Debugf("Static mapping %s", m)
	}
	return table, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	log.Infof("Serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("Metrics server failed: %s", err)
	}
}

// dumpOnSignal logs the table's contents on every SIGUSR1.
func dumpOnSignal(ctx context.Context, table *flowtable.Table) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			mappings := table.Mappings()
			log.Infof("Flow table holds %d mappings", len(mappings))
			for _, m := range mappings {
				log.Info(m.String())
			}
		}
	}
}
