package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BTreeMap/Kantei/internal/dialogue"
	"github.com/BTreeMap/Kantei/internal/genai"
	"github.com/BTreeMap/Kantei/internal/models"
	"github.com/BTreeMap/Kantei/internal/recorder"
	"github.com/BTreeMap/Kantei/internal/store"
)

// simulatorOwner is the owner id used for console dialogues.
const simulatorOwner = "+10000000000"

func newSimulateCmd(a *app) *cobra.Command {
	var imagePath, kind string
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run one dialogue on the console against the configured model",
		Long: `Starts a dialogue from a local image and reads replies from stdin.
Sessions live in memory only. Send キャンセル to stop early.`,
		Example: `  kantei simulate --image screen.jpg
  kantei simulate --image bag.jpg --kind sell`,
		RunE: func(cmd *cobra.Command, args []string) error {
			intent, err := parseKind(kind)
			if err != nil {
				return err
			}
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			gen, err := newGenerator(cmd.Context(), a.cfg, a.logger)
			if err != nil {
				return err
			}
			caps := genai.NewCapabilities(gen, a.cfg.LLM.Timeout, a.logger)
			st := store.NewInMemoryStore()
			engine := newEngine(a.cfg, caps, newEnricher(a.cfg, a.logger), st, recorder.NewStoreRecorder(st), a.logger)
			return simulate(cmd.Context(), engine, intent, img, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "path of the image to start from")
	cmd.Flags().StringVar(&kind, "kind", "media", "dialogue kind: media or sell")
	_ = cmd.MarkFlagRequired("image")
	return cmd
}

func parseKind(kind string) (models.IntentLabel, error) {
	switch strings.ToLower(kind) {
	case "media":
		return models.IntentMedia, nil
	case "sell":
		return models.IntentSell, nil
	default:
		return "", fmt.Errorf("unknown dialogue kind %q (want media or sell)", kind)
	}
}

func readImage(path string) (*models.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > models.MaxImageBytes {
		return nil, models.ErrImageTooLarge
	}
	mime := http.DetectContentType(data)
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s is not an image (%s)", path, mime)
	}
	return &models.Image{Data: data, MIMEType: mime}, nil
}

// simulate drives one dialogue until it ends or the input runs out.
func simulate(ctx context.Context, engine *dialogue.Engine, intent models.IntentLabel, img *models.Image, in io.Reader, out io.Writer) error {
	reply, err := engine.OnImageReceived(ctx, simulatorOwner, intent, img)
	if err != nil {
		return err
	}
	if reply.Declined {
		fmt.Fprintln(out, "(the dialogue could not be started for this image)")
		return nil
	}
	printReply(out, reply)

	scanner := bufio.NewScanner(in)
	for {
		if reply.Session != nil && !reply.Session.IsActive() {
			fmt.Fprintf(out, "(session %s)\n", strings.ToLower(string(reply.Session.Status)))
			return nil
		}
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		reply, err = engine.OnTextReceived(ctx, simulatorOwner, line)
		if err != nil {
			return err
		}
		if reply.Declined {
			fmt.Fprintln(out, "(no active session)")
			return nil
		}
		printReply(out, reply)
	}
}

func printReply(out io.Writer, reply dialogue.Reply) {
	for _, msg := range reply.Messages {
		fmt.Fprintf(out, "kantei: %s\n", msg)
	}
}
