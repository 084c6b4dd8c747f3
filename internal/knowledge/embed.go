package knowledge

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	chromem "github.com/philippgille/chromem-go"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// HashDimensions is the vector size of the local hashing embedder.
const HashDimensions = 512

// NewOpenAIEmbedder embeds through an OpenAI-compatible /embeddings
// endpoint. baseURL includes the version prefix, e.g.
// "https://api.openai.com/v1".
func NewOpenAIEmbedder(baseURL, apiKey, model string) chromem.EmbeddingFunc {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	normalized := true
	return chromem.NewEmbeddingFuncOpenAICompat(strings.TrimRight(baseURL, "/"), apiKey, model, &normalized)
}

// HashEmbedder is an offline embedding: accent-folded lowercase word
// unigrams and bigrams hashed into HashDimensions buckets, L2
// normalised. It needs no network and is deterministic, so lookups work
// without an embedding model, matching on shared vocabulary only.
func HashEmbedder() chromem.EmbeddingFunc {
	return func(_ context.Context, text string) ([]float32, error) {
		vec := make([]float32, HashDimensions)
		words := tokenize(text)
		for i, w := range words {
			vec[bucket(w)] += 1
			if i > 0 {
				vec[bucket(words[i-1]+" "+w)] += 0.5
			}
		}
		normalize(vec)
		return vec, nil
	}
}

func bucket(s string) int {
	h := fnv.New32a()
	h.Write([]byte(s))
	return int(h.Sum32() % HashDimensions)
}

// stopwords are dropped before hashing.
var stopwords = map[string]bool{
	"a": true, "o": true, "as": true, "os": true, "de": true, "da": true, "do": true,
	"das": true, "dos": true, "e": true, "em": true, "no": true, "na": true, "um": true,
	"uma": true, "para": true, "por": true, "com": true, "que": true, "se": true,
	"eu": true, "meu": true, "minha": true, "como": true, "qual": true, "the": true,
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(fold(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		// chromem rejects zero vectors; give empty text a fixed direction.
		v[0] = 1
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// fold strips diacritics.
func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
