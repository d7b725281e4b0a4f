package main

import (
	"context"
	"flag"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "anamnesis-transcript-service/internal/api/grpc"
	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/service/record"
)

func main() {
	serverAddr := flag.String("server", "localhost:50051", "gRPC server address")
	consultationID := flag.String("consultation", "demo-1", "Consultation ID")
	flag.Parse()

	conn, err := grpc.NewClient(*serverAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()
	log.Println("Connected to server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := grpcapi.NewClient(conn)

	// The stream opens the consultation; the mock transcriber answers with
	// scripted utterances regardless of the bytes sent.
	sender, err := client.PushAudio(ctx, *consultationID, models.ChannelPatient, "audio/l16")
	if err != nil {
		log.Fatalf("failed to create stream: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := sender.Send(make([]byte, 4096)); err != nil {
			log.Fatalf("failed to send frame: %v", err)
		}
		time.Sleep(100 * time.Millisecond)
	}
	summary, err := sender.CloseAndRecv()
	if err != nil {
		log.Fatalf("failed to close stream: %v", err)
	}
	log.Printf("Audio summary: %v", summary)

	name := models.FieldPath{SectionID: "identificacao", FieldID: "nome_completo"}
	if err := client.SetFocus(ctx, *consultationID, name); err != nil {
		log.Fatalf("failed to set focus: %v", err)
	}

	value := "João Silva"
	d, err := client.UpdateField(ctx, *consultationID, name, record.FieldPatch{Value: &value})
	if err != nil {
		log.Fatalf("failed to update field: %v", err)
	}
	log.Printf("Updated %s: %q", d.Path, d.To.Value)

	if d, err = client.ConfirmField(ctx, *consultationID, name); err != nil {
		log.Fatalf("failed to confirm field: %v", err)
	}
	log.Printf("Confirmed %s", d.Path)

	rec, err := client.GetRecord(ctx, *consultationID)
	if err != nil {
		log.Fatalf("failed to fetch record: %v", err)
	}
	for _, s := range rec.Sections {
		for _, f := range s.Fields {
			if f.Filled() {
				log.Printf("%s.%s = %q (confidence %.2f, confirmed %v)", s.ID, f.ID, f.Value, f.Confidence, f.Confirmed)
			}
		}
	}
}
