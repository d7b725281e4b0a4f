// Event tail - follows the transcription, delta and status topics and prints
// the events of one consultation (or all of them).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"anamnesis-transcript-service/internal/models"
)

func main() {
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	consultation := flag.String("consultation", "", "Only show this consultation (default: all)")
	topicTranscription := flag.String("topic-transcription", "consultation.transcription", "Transcription topic")
	topicDelta := flag.String("topic-delta", "consultation.record.delta", "Record delta topic")
	topicStatus := flag.String("topic-status", "consultation.status", "Status topic")
	group := flag.String("group", "", "Consumer group (default: a fresh group reading new messages)")
	flag.Parse()

	if *group == "" {
		*group = "anamnesis-eventtail-" + uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("Kafka brokers: %s", *brokers)
	log.Printf("Topics: %s, %s, %s", *topicTranscription, *topicDelta, *topicStatus)

	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range []string{*topicTranscription, *topicDelta, *topicStatus} {
		g.Go(func() error {
			return consume(gctx, strings.Split(*brokers, ","), topic, *group, *consultation)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("Event tail stopped: %v", err)
		os.Exit(1)
	}
}

func consume(ctx context.Context, brokers []string, topic, group, consultation string) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     group,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	log.Printf("Consuming from Kafka topic: %s", topic)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Kafka read error on %s: %v", topic, err)
			time.Sleep(time.Second)
			continue
		}
		// Messages are keyed by consultation id.
		if consultation != "" && string(msg.Key) != consultation {
			continue
		}
		line, err := describe(msg.Value)
		if err != nil {
			log.Printf("Skipping undecodable message on %s: %v", topic, err)
			continue
		}
		fmt.Println(line)
	}
}

// describe renders one event as a single line.
func describe(value []byte) (string, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(value, &head); err != nil {
		return "", err
	}

	switch head.Type {
	case models.EventTypeTranscription:
		var ev models.TranscriptionEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", err
		}
		speaker := string(ev.Channel)
		if ev.SpeakerHint != "" {
			speaker += "~" + string(ev.SpeakerHint)
		}
		return fmt.Sprintf("[%s] %-10s %s (%.2f)", ev.ConsultationID, speaker, truncate(ev.Text, 80), ev.Confidence), nil

	case models.EventTypeDelta:
		var ev models.DeltaEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", err
		}
		parts := make([]string, 0, len(ev.Deltas))
		for _, d := range ev.Deltas {
			parts = append(parts, fmt.Sprintf("%s=%q", d.Path, d.To.Value))
		}
		line := fmt.Sprintf("[%s] delta/%s %s", ev.ConsultationID, ev.Source, strings.Join(parts, " "))
		if len(ev.Suggestions) > 0 {
			line += fmt.Sprintf(" (+%d suggestions)", len(ev.Suggestions))
		}
		if ev.NextField != nil {
			line += " next=" + ev.NextField.String()
		}
		return line, nil

	case models.EventTypeStatus:
		var ev models.StatusEvent
		if err := json.Unmarshal(value, &ev); err != nil {
			return "", err
		}
		line := fmt.Sprintf("[%s] status %s", ev.ConsultationID, ev.Status)
		if ev.Field != nil {
			line += " " + ev.Field.String()
		}
		if ev.Message != "" {
			line += ": " + ev.Message
		}
		return line, nil
	}
	return "", fmt.Errorf("unknown event type %q", head.Type)
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
