package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/minasoft/hl7-liteboard/internal/config"
	"github.com/minasoft/hl7-liteboard/internal/hl7"
	"github.com/minasoft/hl7-liteboard/internal/store/postgres"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hl7-liteboard",
		Short: "HL7v2 mesajlarını XML/JSON/PDF biçimlerine dönüştüren servis",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(parseCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "HTTP API ve MLLP dinleyicisini başlat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func parseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>",
		Short: "Bir HL7 dosyasını çözümle ve özetini JSON olarak yazdır",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("dosya okunamadı: %w", err)
			}

			text := string(data)
			if err := hl7.Validate(text); err != nil {
				return err
			}

			out, err := json.MarshalIndent(hl7.Summarize(text), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Bir HL7 dosyasını MLLP üzerinden gönder",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("dosya okunamadı: %w", err)
			}

			// Files on disk usually carry LF line endings; MLLP peers expect CR.
			message := strings.Join(hl7.SplitSegments(string(data)), "\r")

			ackCode, err := hl7.NewMLLPClient(addr, timeout).SendMessage([]byte(message))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ACK: %s\n", ackCode)
			return nil
		},
	}
	cmd.Flags().String("addr", "localhost:7001", "MLLP sunucu adresi")
	cmd.Flags().Duration("timeout", 30*time.Second, "bağlantı ve ACK zaman aşımı")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "PostgreSQL şemasını uygula",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return fmt.Errorf("DATABASE_URL tanımlı değil")
			}

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			return postgres.Migrate(ctx, pool)
		},
	}
}
