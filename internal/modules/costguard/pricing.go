package costguard

import (
	"sort"
	"strings"

	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
)

// Rate is a per-1k-token price in USD.
type Rate struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PriceTable resolves a model name to its Rate by longest prefix match,
// falling back to the embedding or completion default.
type PriceTable struct {
	Models     map[string]Rate
	Embedding  Rate
	Completion Rate
}

func DefaultPriceTable() PriceTable {
	return PriceTable{
		Models: map[string]Rate{
			"text-embedding-3-small": {InputPer1K: 0.00002},
			"text-embedding-3-large": {InputPer1K: 0.00013},
			"gpt-4o-mini":            {InputPer1K: 0.00015, OutputPer1K: 0.0006},
			"gpt-4o":                 {InputPer1K: 0.0025, OutputPer1K: 0.01},
			"gpt-4.1-mini":           {InputPer1K: 0.0004, OutputPer1K: 0.0016},
			"gpt-4.1":                {InputPer1K: 0.002, OutputPer1K: 0.008},
			"claude-haiku-4-5":       {InputPer1K: 0.001, OutputPer1K: 0.005},
			"claude-sonnet-4":        {InputPer1K: 0.003, OutputPer1K: 0.015},
		},
		Embedding:  Rate{InputPer1K: 0.00002},
		Completion: Rate{InputPer1K: 0.0025, OutputPer1K: 0.01},
	}
}

// PriceTableFromEnv overrides the fallback rates from COST_PRICE_* variables.
func PriceTableFromEnv() PriceTable {
	t := DefaultPriceTable()
	t.Embedding.InputPer1K = envutil.Float("COST_PRICE_EMBED_PER_1K", t.Embedding.InputPer1K)
	t.Completion.InputPer1K = envutil.Float("COST_PRICE_INPUT_PER_1K", t.Completion.InputPer1K)
	t.Completion.OutputPer1K = envutil.Float("COST_PRICE_OUTPUT_PER_1K", t.Completion.OutputPer1K)
	return t
}

func (t PriceTable) Rate(model string, kind Kind) Rate {
	m := strings.ToLower(strings.TrimSpace(model))
	keys := make([]string, 0, len(t.Models))
	for k := range t.Models {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return len(keys[i]) > len(keys[j]) })
	for _, k := range keys {
		if m != "" && strings.HasPrefix(m, k) {
			return t.Models[k]
		}
	}
	if kind == KindEmbedding {
		return t.Embedding
	}
	return t.Completion
}

// Cost prices a usage in USD.
func (t PriceTable) Cost(u Usage) float64 {
	r := t.Rate(u.Model, u.Kind)
	return float64(u.TokensIn)/1000*r.InputPer1K + float64(u.TokensOut)/1000*r.OutputPer1K
}
