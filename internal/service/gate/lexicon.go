package gate

// Phrases emitted by STT models on silence or low volume: community caption
// credits and video outros. Stored folded.
var boilerplatePhrases = []string{
	"legendas pela comunidade amara.org",
	"amara.org",
	"legendado por",
	"legendas por",
	"legenda por",
	"legendas em portugues",
	"traducao e legendas",
	"legendagem",
	"inscreva-se no canal",
	"inscreva-se",
	"ative o sininho",
	"obrigado por assistir",
	"obrigada por assistir",
	"ate o proximo video",
	"subtitles by",
	"subtitled by",
	"thanks for watching",
	"sous-titres",
	"transcricao automatica",
	"www.",
}

// Low-information utterances that never carry record content.
var fillerPhrases = []string{
	"obrigado",
	"obrigada",
	"muito obrigado",
	"muito obrigada",
	"tchau",
	"ok",
	"okay",
	"hum",
	"hmm",
	"uhum",
	"aham",
	"ahn",
	"ne",
	"e",
	"entao",
	"musica",
	"aplausos",
	"risos",
	"silencio",
	"legenda",
	"you",
}

// Domain vocabulary used by the relevance check. Stored folded.
var medicalTerms = []string{
	"dor", "febre", "pressao", "remedio", "medicamento", "alergia", "sintoma",
	"tosse", "cabeca", "estomago", "barriga", "peito", "nausea", "enjoo",
	"vomito", "diarreia", "tontura", "cansaco", "diabetes", "hipertensao",
	"asma", "cirurgia", "exame", "sangue", "coracao", "respirar", "falta de ar",
	"anos", "idade", "nome", "sexo", "casado", "casada", "solteiro", "solteira",
	"fumo", "bebo", "alcool", "cigarro", "doenca", "tratamento", "consulta",
	"sinto", "sentindo", "doi", "doendo", "inchaco", "mancha", "coceira",
	"gravida", "menstruacao", "peso", "sono", "dormir", "trabalho", "profissao",
}
