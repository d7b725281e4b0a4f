package google

import (
	"context"
	"errors"
	"math"
	"testing"

	"cloud.google.com/go/speech/apiv1/speechpb"

	"anamnesis-transcript-service/internal/service/stt"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "pt-BR" {
		t.Errorf("expected default language 'pt-BR', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // case sensitive, fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16},
		{"", speechpb.RecognitionConfig_LINEAR16},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestEncodingForMime(t *testing.T) {
	tests := []struct {
		mime     string
		fallback string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"audio/webm;codecs=opus", "LINEAR16", speechpb.RecognitionConfig_WEBM_OPUS},
		{"AUDIO/OGG", "LINEAR16", speechpb.RecognitionConfig_OGG_OPUS},
		{"audio/wav", "FLAC", speechpb.RecognitionConfig_LINEAR16},
		{"audio/flac", "LINEAR16", speechpb.RecognitionConfig_FLAC},
		{"audio/basic", "LINEAR16", speechpb.RecognitionConfig_MULAW},
		{"application/octet-stream", "FLAC", speechpb.RecognitionConfig_FLAC},
		{"", "MULAW", speechpb.RecognitionConfig_MULAW},
	}

	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			if got := encodingForMime(tt.mime, tt.fallback); got != tt.expected {
				t.Errorf("encodingForMime(%q) = %v, want %v", tt.mime, got, tt.expected)
			}
		})
	}
}

func TestRecognitionConfig_SampleRate(t *testing.T) {
	a := &Adapter{cfg: DefaultConfig()}

	if rc := a.recognitionConfig("audio/webm"); rc.SampleRateHertz != 48000 {
		t.Errorf("expected 48000 for opus, got %d", rc.SampleRateHertz)
	}
	if rc := a.recognitionConfig("audio/wav"); rc.SampleRateHertz != 16000 {
		t.Errorf("expected configured rate for LINEAR16, got %d", rc.SampleRateHertz)
	}
	rc := a.recognitionConfig("audio/flac")
	if rc.SampleRateHertz != 0 {
		t.Errorf("expected rate from FLAC header, got %d", rc.SampleRateHertz)
	}
	if rc.LanguageCode != "pt-BR" || !rc.EnableAutomaticPunctuation {
		t.Errorf("unexpected config %+v", rc)
	}
}

func TestCollect(t *testing.T) {
	alt := func(text string, conf float32) *speechpb.SpeechRecognitionResult {
		return &speechpb.SpeechRecognitionResult{
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: conf}},
		}
	}

	res := collect([]*speechpb.SpeechRecognitionResult{
		alt("tenho dor de cabeça", 0.9),
		{},
		alt("  ", 0.1),
		alt("faz três dias", 0.7),
	})
	if !res.Success || res.Mock {
		t.Errorf("unexpected flags %+v", res)
	}
	if res.Text != "tenho dor de cabeça faz três dias" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if math.Abs(res.Confidence-0.8) > 1e-6 {
		t.Errorf("expected mean confidence 0.8, got %v", res.Confidence)
	}

	silent := collect(nil)
	if !silent.Success || silent.Text != "" || silent.Confidence != 0 {
		t.Errorf("expected successful empty result for silence, got %+v", silent)
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	a := &Adapter{cfg: DefaultConfig()}
	if _, err := a.Transcribe(context.Background(), nil, "audio/wav"); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("expected ErrEmptyAudio, got %v", err)
	}
}
