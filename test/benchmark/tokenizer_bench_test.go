package benchmark

import (
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/normalizer"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Distributed search engines process queries across multiple shards to achieve
horizontal scalability. Each shard maintains its own inverted index and responds
to queries independently. The index isn't rebuilt: it's updated in place, and
every term's first line is remembered.`,
	"long": strings.Repeat(`Information retrieval systems form the backbone of modern search
infrastructure. These systems combine tokenization and noise-word removal to
normalize text into searchable terms. The inverted index maps each term to the
documents containing it, along with the line it first appears on.
`, 20),
}

func BenchmarkTokenize(b *testing.B) {
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				_ = normalizer.Tokenize(text, benchNoise)
			}
		})
	}
}

func BenchmarkTokenizeParallel(b *testing.B) {
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = normalizer.Tokenize(text, benchNoise)
		}
	})
}

func BenchmarkNormalize(b *testing.B) {
	words := strings.Fields(sampleTexts["medium"])
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			_, _ = normalizer.Normalize(w)
		}
	}
}
