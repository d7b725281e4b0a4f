// Package google provides a Google Cloud Speech-to-Text transcriber.
package google

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"anamnesis-transcript-service/internal/service/stt"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode    string // e.g. "pt-BR"
	SampleRateHz    int32  // used for LINEAR16 and MULAW chunks
	AudioEncoding   string // fallback when the mime type is not recognised
	Model           string // optional recognition model, e.g. "latest_short"
	CredentialsFile string // optional; defaults to GOOGLE_APPLICATION_CREDENTIALS
}

// DefaultConfig returns the default configuration for consultation audio.
func DefaultConfig() Config {
	return Config{
		LanguageCode:  "pt-BR",
		SampleRateHz:  16000,
		AudioEncoding: "LINEAR16",
	}
}

// Adapter implements stt.Transcriber with batch Recognize calls. One chunk
// is one request; the chunk window keeps requests under the synchronous
// recognition limit.
type Adapter struct {
	client *speech.Client
	cfg    Config
}

var _ stt.Transcriber = (*Adapter)(nil)

// New creates a Google STT adapter.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	c, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("google stt: new client: %w", err)
	}
	return &Adapter{client: c, cfg: cfg}, nil
}

// Transcribe sends one chunk to Google and joins the best alternative of
// every result. Silence yields a successful, empty result.
func (a *Adapter) Transcribe(ctx context.Context, audio []byte, mimeType string) (stt.Result, error) {
	if len(audio) == 0 {
		return stt.Result{}, stt.ErrEmptyAudio
	}

	resp, err := a.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: a.recognitionConfig(mimeType),
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio},
		},
	})
	if err != nil {
		return stt.Result{}, fmt.Errorf("google stt: recognize: %w", err)
	}
	return collect(resp.GetResults()), nil
}

// Close releases the underlying client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

func (a *Adapter) recognitionConfig(mimeType string) *speechpb.RecognitionConfig {
	enc := encodingForMime(mimeType, a.cfg.AudioEncoding)
	rc := &speechpb.RecognitionConfig{
		Encoding:                   enc,
		LanguageCode:               a.cfg.LanguageCode,
		EnableAutomaticPunctuation: true,
		Model:                      a.cfg.Model,
	}
	switch enc {
	case speechpb.RecognitionConfig_WEBM_OPUS, speechpb.RecognitionConfig_OGG_OPUS:
		rc.SampleRateHertz = 48000
	case speechpb.RecognitionConfig_LINEAR16, speechpb.RecognitionConfig_MULAW:
		rc.SampleRateHertz = a.cfg.SampleRateHz
	}
	return rc
}

func collect(results []*speechpb.SpeechRecognitionResult) stt.Result {
	var (
		parts []string
		sum   float64
	)
	for _, r := range results {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		text := strings.TrimSpace(alts[0].GetTranscript())
		if text == "" {
			continue
		}
		parts = append(parts, text)
		sum += float64(alts[0].GetConfidence())
	}
	res := stt.Result{Success: true}
	if len(parts) > 0 {
		res.Text = strings.Join(parts, " ")
		res.Confidence = sum / float64(len(parts))
	}
	return res
}

// encodingForMime maps a container mime type to a Google encoding.
func encodingForMime(mimeType, fallback string) speechpb.RecognitionConfig_AudioEncoding {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(mimeType)), ";")
	switch base {
	case "audio/webm", "video/webm":
		return speechpb.RecognitionConfig_WEBM_OPUS
	case "audio/ogg", "audio/opus":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "audio/flac", "audio/x-flac":
		return speechpb.RecognitionConfig_FLAC
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/l16":
		return speechpb.RecognitionConfig_LINEAR16
	case "audio/basic", "audio/mulaw":
		return speechpb.RecognitionConfig_MULAW
	case "audio/amr":
		return speechpb.RecognitionConfig_AMR
	}
	return parseAudioEncoding(fallback)
}

// parseAudioEncoding converts a string to the Google encoding enum.
func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
