package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/youpy/go-wav"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "anamnesis-transcript-service/internal/api/grpc"
	"anamnesis-transcript-service/internal/models"
)

// Stream audio in frames to simulate a live microphone.
const frameInterval = 100 * time.Millisecond

func main() {
	audioFile := flag.String("audio", "testdata/consultation-16khz.wav", "Path to WAV file (16-bit PCM mono)")
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	consultationID := flag.String("consultation", "demo-"+time.Now().Format("150405"), "Consultation ID")
	channel := flag.String("channel", string(models.ChannelPatient), "Speaker channel (doctor or patient)")
	realtime := flag.Bool("realtime", true, "Pace frames at the recording's real rate")
	flag.Parse()

	ch, err := models.ParseChannel(*channel)
	if err != nil {
		log.Fatalf("Invalid channel: %v", err)
	}

	f, err := os.Open(*audioFile)
	if err != nil {
		log.Fatalf("Failed to open audio file: %v", err)
	}
	defer f.Close()

	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		log.Fatalf("Failed to read WAV header: %v", err)
	}
	log.Printf("WAV file: format=%d channels=%d sampleRate=%d bitsPerSample=%d",
		format.AudioFormat, format.NumChannels, format.SampleRate, format.BitsPerSample)

	if format.AudioFormat != wav.AudioFormatPCM || format.BitsPerSample != 16 {
		log.Fatal("Only 16-bit PCM is supported")
	}
	if format.NumChannels != 1 {
		log.Fatal("Only mono audio is supported; split stereo recordings per speaker")
	}

	mimeType := fmt.Sprintf("audio/l16;rate=%d", format.SampleRate)

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()
	log.Printf("Connected to %s", *serverAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	client := grpcapi.NewClient(conn)
	sender, err := client.PushAudio(ctx, *consultationID, ch, mimeType)
	if err != nil {
		log.Fatalf("Failed to create stream: %v", err)
	}
	log.Printf("Streaming audio: consultation=%s channel=%s mime=%s", *consultationID, ch, mimeType)

	samplesPerFrame := uint32(format.SampleRate) * uint32(frameInterval/time.Millisecond) / 1000
	var totalBytes, frames int
	start := time.Now()
	for {
		samples, err := reader.ReadSamples(samplesPerFrame)
		if len(samples) > 0 {
			frame := encodePCM16(samples)
			if err := sender.Send(frame); err != nil {
				log.Fatalf("Failed to send frame: %v", err)
			}
			frames++
			totalBytes += len(frame)
			if frames%50 == 0 {
				log.Printf("Sent %d frames (%d bytes)", frames, totalBytes)
			}
			if *realtime {
				time.Sleep(frameInterval)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatalf("Failed to read audio: %v", err)
		}
	}
	log.Printf("Finished streaming: %d frames, %d bytes in %v", frames, totalBytes, time.Since(start))

	log.Println("Closing stream, waiting for the last window to be transcribed...")
	summary, err := sender.CloseAndRecv()
	if err != nil {
		log.Fatalf("Failed to receive summary: %v", err)
	}
	log.Printf("Stream completed: %v", summary)

	rec, err := client.GetRecord(ctx, *consultationID)
	if err != nil {
		log.Fatalf("Failed to fetch record: %v", err)
	}
	filled, total := rec.FilledCount()
	log.Printf("Record %s: %d/%d fields filled", rec.ConsultationID, filled, total)
}

// encodePCM16 packs mono samples as little-endian 16-bit PCM (audio/l16).
func encodePCM16(samples []wav.Sample) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(s.Values[0])))
	}
	return out
}
