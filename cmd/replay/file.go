package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

func newFileCmd(root *rootOptions) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "file <payload.json>...",
		Short: "Post recorded payloads; a file may hold one object or an array of objects",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPoster(root, kind)
			if err != nil {
				return err
			}

			failed := 0
			for _, path := range args {
				raw, err := os.ReadFile(path)
				if err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
				payloads, err := splitPayloads(raw)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}

				for i, payload := range payloads {
					status, body, err := p.post(cmd.Context(), payload)
					if err != nil {
						failed++
						logger.Log.Error("Request failed", zap.String("file", path), zap.Int("index", i), zap.Error(err))
						continue
					}
					if status >= 300 {
						failed++
					}
					logger.Log.Info("Replayed payload",
						zap.String("file", path),
						zap.Int("index", i),
						zap.Int("status", status),
						zap.ByteString("response", body),
					)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d payload(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "message", "Webhook kind: message or form")
	return cmd
}

// splitPayloads returns each object of a JSON array, or the document itself.
func splitPayloads(raw []byte) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload file")
	}
	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
		return items, nil
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("invalid JSON document")
	}
	return []json.RawMessage{json.RawMessage(trimmed)}, nil
}
