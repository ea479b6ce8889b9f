package nats

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	ConversionsStream = "HL7_CONVERSIONS"
	ConversionSubject = "hl7.conversions"
)

type EmbeddedServer struct {
	server *server.Server
	nc     *nats.Conn
	js     jetstream.JetStream
}

func NewEmbeddedServer(dataDir string) (*EmbeddedServer, error) {
	// NATS sunucu ayarları
	opts := &server.Options{
		JetStream:  true,
		StoreDir:   filepath.Join(dataDir, "nats-store"),
		Port:       -1, // Random port, sadece internal kullanım
		HTTPPort:   -1, // HTTP monitoring kapalı
		MaxPayload: 16 * 1024 * 1024,
		NoSigs:     true,
	}

	if err := os.MkdirAll(opts.StoreDir, 0755); err != nil {
		return nil, fmt.Errorf("store dizini oluşturulamadı: %w", err)
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("NATS sunucu oluşturulamadı: %w", err)
	}

	ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS sunucu başlatılamadı")
	}

	slog.Info("Gömülü NATS sunucu başlatıldı", "clientURL", ns.ClientURL())

	nc, err := nats.Connect(ns.ClientURL(), nats.Name("hl7-liteboard"))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("NATS bağlantısı kurulamadı: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("JetStream başlatılamadı: %w", err)
	}

	es := &EmbeddedServer{
		server: ns,
		nc:     nc,
		js:     js,
	}

	if err := EnsureStreams(context.Background(), js); err != nil {
		es.Shutdown()
		return nil, err
	}

	return es, nil
}

// EnsureStreams creates the conversion job stream. Duplicate job ids are
// dropped within the dedup window.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:        ConversionsStream,
		Description: "Bekleyen HL7 dönüşüm işleri",
		Subjects:    []string{ConversionSubject + ".>"},
		Retention:   jetstream.WorkQueuePolicy,
		MaxAge:      7 * 24 * time.Hour, // 7 gün
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		MaxMsgs:     1000000,
		Duplicates:  10 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("conversion stream oluşturulamadı: %w", err)
	}
	slog.Info("HL7_CONVERSIONS stream oluşturuldu")
	return nil
}

func (es *EmbeddedServer) JetStream() jetstream.JetStream {
	return es.js
}

func (es *EmbeddedServer) Connection() *nats.Conn {
	return es.nc
}

func (es *EmbeddedServer) Shutdown() {
	if es.nc != nil {
		es.nc.Close()
	}
	if es.server != nil {
		es.server.Shutdown()
		es.server.WaitForShutdown()
	}
	slog.Info("NATS sunucu kapatıldı")
}
