package extract

import (
	"math"
	"reflect"
	"testing"

	"anamnesis-transcript-service/internal/models"
	"anamnesis-transcript-service/internal/schema"
)

const tolerance = 1e-9

func defaultExtractor(t *testing.T) (*Extractor, *schema.Schema) {
	t.Helper()
	s, err := schema.LoadDefault()
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	return New(s, DefaultConfig()), s
}

func byField(cands []models.CandidateMatch) map[string]models.CandidateMatch {
	out := make(map[string]models.CandidateMatch, len(cands))
	for _, c := range cands {
		out[c.FieldID] = c
	}
	return out
}

func TestExtract_IdentificationSentence(t *testing.T) {
	e, _ := defaultExtractor(t)
	text := "Meu nome é João Silva, tenho 42 anos, sou masculino"

	cands := e.Extract(text, nil, "")
	got := byField(cands)

	want := map[string]string{
		"nome_completo": "João Silva",
		"idade":         "42 anos",
		"sexo":          "masculino",
	}
	for id, value := range want {
		c, ok := got[id]
		if !ok {
			t.Errorf("missing candidate for %s", id)
			continue
		}
		if c.Value != value {
			t.Errorf("%s: expected %q, got %q", id, value, c.Value)
		}
		if c.Confidence <= 0.5 {
			t.Errorf("%s: expected confidence > 0.5, got %v", id, c.Confidence)
		}
		if c.SectionID != "identificacao" {
			t.Errorf("%s: expected section identificacao, got %s", id, c.SectionID)
		}
		if c.EvidenceText != text {
			t.Errorf("%s: expected evidence text to be the input", id)
		}
	}
	if len(cands) != len(want) {
		t.Errorf("expected %d candidates, got %d: %+v", len(want), len(cands), cands)
	}

	// Equal confidences keep schema order.
	if len(cands) == 3 && (cands[0].FieldID != "nome_completo" || cands[1].FieldID != "idade" || cands[2].FieldID != "sexo") {
		t.Errorf("unexpected order: %s, %s, %s", cands[0].FieldID, cands[1].FieldID, cands[2].FieldID)
	}
}

func TestExtract_DecomposedAccents(t *testing.T) {
	e, _ := defaultExtractor(t)
	composed := byField(e.Extract("Meu nome é João Silva, tenho 42 anos", nil, ""))
	decomposed := byField(e.Extract("Meu nome e\u0301 Joa\u0303o Silva, tenho 42 anos", nil, ""))

	for _, id := range []string{"nome_completo", "idade"} {
		c, ok := decomposed[id]
		if !ok {
			t.Errorf("missing candidate for %s", id)
			continue
		}
		if c.Value != composed[id].Value {
			t.Errorf("%s: expected %q, got %q", id, composed[id].Value, c.Value)
		}
	}
	if decomposed["nome_completo"].Value != "João Silva" {
		t.Errorf("unexpected name %q", decomposed["nome_completo"].Value)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e, s := defaultExtractor(t)
	rec := s.NewRecord("c-1")
	text := "Estou sentindo dor de cabeça forte faz três dias, tomo dipirona"

	first := e.Extract(text, rec, "queixa_principal")
	for i := 0; i < 20; i++ {
		if got := e.Extract(text, rec, "queixa_principal"); !reflect.DeepEqual(first, got) {
			t.Fatalf("run %d differs:\n%+v\n%+v", i, first, got)
		}
	}
	if len(first) == 0 {
		t.Fatal("expected candidates")
	}
	for i := 1; i < len(first); i++ {
		if first[i].Confidence > first[i-1].Confidence {
			t.Errorf("candidates not sorted at %d", i)
		}
	}
}

func TestExtract_SkipsFilledFields(t *testing.T) {
	e, s := defaultExtractor(t)
	rec := s.NewRecord("c-1")
	rec.Field(models.FieldPath{SectionID: "identificacao", FieldID: "nome_completo"}).Value = "Maria Souza"

	got := byField(e.Extract("Meu nome é João Silva, tenho 42 anos", rec, ""))
	if _, ok := got["nome_completo"]; ok {
		t.Error("expected filled field to be skipped")
	}
	if _, ok := got["idade"]; !ok {
		t.Error("expected idade candidate")
	}
}

func TestExtract_NoKeywordNoCandidate(t *testing.T) {
	e, _ := defaultExtractor(t)
	if got := e.Extract("vamos conversar um pouco agora", nil, ""); len(got) != 0 {
		t.Errorf("expected no candidates, got %+v", got)
	}
	if got := e.Extract("   ", nil, ""); got != nil {
		t.Errorf("expected nil for blank input, got %+v", got)
	}
}

func TestExtract_ContextualFallback(t *testing.T) {
	e, _ := defaultExtractor(t)
	got := byField(e.Extract("Minha alergia é dipirona.", nil, ""))

	c, ok := got["alergias"]
	if !ok {
		t.Fatalf("expected alergias candidate, got %+v", got)
	}
	if c.Value != "dipirona" {
		t.Errorf("expected dipirona, got %q", c.Value)
	}
	if math.Abs(c.Confidence-0.9) > tolerance {
		t.Errorf("expected 0.9, got %v", c.Confidence)
	}
}

func TestExtract_ProximityFallback(t *testing.T) {
	e, _ := defaultExtractor(t)
	got := byField(e.Extract("Cigarro. Meu avô fumava dois maços por dia", nil, ""))

	c, ok := got["tabagismo"]
	if !ok {
		t.Fatalf("expected tabagismo candidate, got %+v", got)
	}
	if c.Value != "Cigarro. Meu avô fumava dois" {
		t.Errorf("unexpected window %q", c.Value)
	}
	if math.Abs(c.Confidence-0.95) > tolerance {
		t.Errorf("expected 0.95, got %v", c.Confidence)
	}
}

const dizzinessSchema = `
version: 1
sections:
  - id: sintomas
    title: Sintomas
    fields:
      - id: tontura
        label: Tontura
        keywords: [tontura, vertigem, zonzo, zonzeira, desequilibrio, labirintite, rodando, girando, cambaleando, tonteira]
`

func TestExtract_FocusBoostAndFloor(t *testing.T) {
	s, err := schema.Parse([]byte(dizzinessSchema))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	e := New(s, DefaultConfig())

	plain := e.Extract("Tontura forte", nil, "")
	focused := e.Extract("Tontura forte", nil, "tontura")
	if len(plain) != 1 || len(focused) != 1 {
		t.Fatalf("expected one candidate each, got %d and %d", len(plain), len(focused))
	}
	if plain[0].Value != "forte" {
		t.Errorf("expected contextual value forte, got %q", plain[0].Value)
	}
	if math.Abs(plain[0].Confidence-(0.1*10/3+0.3)) > tolerance {
		t.Errorf("unexpected unfocused confidence %v", plain[0].Confidence)
	}
	if math.Abs(focused[0].Confidence-plain[0].Confidence-0.25) > tolerance {
		t.Errorf("expected focus to add 0.25, got %v vs %v", focused[0].Confidence, plain[0].Confidence)
	}

	strict := New(s, Config{MinConfidence: 0.7})
	if got := strict.Extract("Tontura forte", nil, ""); len(got) != 0 {
		t.Errorf("expected candidate below floor to be dropped, got %+v", got)
	}
	if got := strict.Extract("Tontura forte", nil, "tontura"); len(got) != 1 {
		t.Errorf("expected focused candidate above floor, got %+v", got)
	}
}

func TestExtract_ConfidenceClamped(t *testing.T) {
	e, _ := defaultExtractor(t)
	for _, c := range e.Extract("Meu nome é João Silva, tenho 42 anos", nil, "nome_completo") {
		if c.Confidence > 0.95+tolerance {
			t.Errorf("%s: confidence %v above clamp", c.FieldID, c.Confidence)
		}
	}
}

func TestApplyBoosts(t *testing.T) {
	s, err := schema.LoadDefault()
	if err != nil {
		t.Fatalf("load schema: %v", err)
	}
	idade, _ := s.Lookup("idade")
	alergias, _ := s.Lookup("alergias")

	tests := []struct {
		name string
		in   BoostInput
		want float64
	}{
		{"none", BoostInput{Field: alergias, Value: "dipirona"}, 0.5},
		{"focused", BoostInput{Field: alergias, Value: "dipirona", FocusedFieldID: "alergias"}, 0.75},
		{"other focus", BoostInput{Field: alergias, Value: "dipirona", FocusedFieldID: "idade"}, 0.5},
		{"long", BoostInput{Field: alergias, Value: "dipirona e amoxicilina"}, 0.6},
		{"specific", BoostInput{Field: idade, Value: "42 anos"}, 0.65},
		{"all", BoostInput{Field: idade, Value: "42 anos", FocusedFieldID: "idade"}, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ApplyBoosts(DefaultBoostRules(), tt.in, 0.5); math.Abs(got-tt.want) > tolerance {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestNormalize_Contractions(t *testing.T) {
	got := string(normalize("Tô com dor,, vc  sabe... né?").display)
	want := "estou com dor, você sabe. não é?"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestClean(t *testing.T) {
	name := &schema.Field{Format: schema.FormatName}
	age := &schema.Field{Format: schema.FormatAge}
	plain := &schema.Field{Format: schema.FormatText}
	lower := &schema.Field{Format: schema.FormatLower}

	tests := []struct {
		name  string
		value string
		field *schema.Field
		want  string
	}{
		{"name particles", "joão da silva e tenho", name, "João da Silva"},
		{"name trailing comma", "MARIA SOUZA, moro aqui", name, "Maria Souza"},
		{"age digits", "42", age, "42 anos"},
		{"age words", "Quarenta", age, "quarenta"},
		{"age non-ascii digits", "٤٢", age, "٤٢"},
		{"age digits after text", "uns 42", age, "42 anos"},
		{"filler prefixes", "então a dipirona.", plain, "dipirona"},
		{"lower", "Casado", lower, "casado"},
		{"only filler", "é ...", plain, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clean(tt.value, tt.field); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestProximityWindow(t *testing.T) {
	tokens := []string{"a", "b", "c", "d", "k", "e", "f", "g", "h", "i"}
	got := proximityWindow(tokens, 4)
	want := []string{"b", "c", "d", "k", "e", "f", "g", "h"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := proximityWindow(tokens, 0); len(got) != 5 {
		t.Errorf("expected clipped window of 5, got %v", got)
	}
}
