package costguard

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	types "github.com/yungbote/pdfsum-backend/internal/domain"
	"github.com/yungbote/pdfsum-backend/internal/domain/billing"
	"github.com/yungbote/pdfsum-backend/internal/data/repos"
	"github.com/yungbote/pdfsum-backend/internal/observability"
	"github.com/yungbote/pdfsum-backend/internal/pkg/dbctx"
	"github.com/yungbote/pdfsum-backend/internal/platform/envutil"
	"github.com/yungbote/pdfsum-backend/internal/platform/logger"
)

type Kind string

const (
	KindEmbedding  Kind = "embedding"
	KindCompletion Kind = "completion"
)

// Usage is a token count for one model call, estimated before it and actual after it.
type Usage struct {
	Kind      Kind
	Model     string
	TokensIn  int
	TokensOut int
}

type Config struct {
	MonthlyBudgetUSD float64
	Prices           PriceTable
}

func ConfigFromEnv() Config {
	return Config{
		MonthlyBudgetUSD: envutil.Float("COST_MONTHLY_BUDGET_USD", 50),
		Prices:           PriceTableFromEnv(),
	}
}

// BudgetExceededError rejects a call whose projected cost would push the
// user's monthly spend past the budget.
type BudgetExceededError struct {
	UserID    uuid.UUID
	Month     string
	Spent     float64
	Projected float64
	Budget    float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf(
		"Monthly budget exceeded: this request would bring %s spend to $%.4f, over the $%.2f budget ($%.4f already used). Raise the budget or wait until next month.",
		e.Month, e.Projected, e.Budget, e.Spent,
	)
}

type Decision struct {
	Month     string
	Spent     float64
	Cost      float64
	Projected float64
	Budget    float64
}

type Guard struct {
	ledger repos.CostLedgerRepo
	cfg    Config
	log    *logger.Logger
	now    func() time.Time
}

func New(ledger repos.CostLedgerRepo, baseLog *logger.Logger, cfg Config) *Guard {
	if cfg.Prices.Models == nil {
		cfg.Prices = DefaultPriceTable()
	}
	return &Guard{
		ledger: ledger,
		cfg:    cfg,
		log:    baseLog.With("component", "CostGuard"),
		now:    time.Now,
	}
}

func (g *Guard) Prices() PriceTable { return g.cfg.Prices }

func (g *Guard) Budget() float64 { return g.cfg.MonthlyBudgetUSD }

// Authorize projects the cost of u onto the current month's ledger row,
// which is re-read on every call. Rejections leave the ledger untouched.
func (g *Guard) Authorize(ctx context.Context, userID uuid.UUID, u Usage) (Decision, error) {
	month := billing.MonthKey(g.now())
	row, err := g.ledger.Get(dbctx.Context{Ctx: ctx}, userID, month)
	if err != nil {
		return Decision{}, fmt.Errorf("read cost ledger: %w", err)
	}
	cost := g.cfg.Prices.Cost(u)
	d := Decision{
		Month:     month,
		Spent:     row.EstimatedCost,
		Cost:      cost,
		Projected: row.EstimatedCost + cost,
		Budget:    g.cfg.MonthlyBudgetUSD,
	}
	if d.Projected > d.Budget {
		observability.Current().IncBudgetRejection(string(u.Kind))
		g.log.Warn("Budget rejection",
			"user_id", userID,
			"month", month,
			"spent", d.Spent,
			"projected", d.Projected,
			"budget", d.Budget,
		)
		return d, &BudgetExceededError{
			UserID:    userID,
			Month:     month,
			Spent:     d.Spent,
			Projected: d.Projected,
			Budget:    d.Budget,
		}
	}
	return d, nil
}

// Record adds actual provider token counts to the ledger.
func (g *Guard) Record(ctx context.Context, userID uuid.UUID, u Usage) error {
	cost := g.cfg.Prices.Cost(u)
	month := billing.MonthKey(g.now())
	if err := g.ledger.Add(dbctx.Context{Ctx: ctx}, userID, month, int64(u.TokensIn), int64(u.TokensOut), cost); err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	observability.Current().AddCost(u.Model, cost)
	return nil
}

type MonthlyUsage struct {
	UserID    uuid.UUID `json:"user_id"`
	Month     string    `json:"month"`
	TokensIn  int64     `json:"tokens_in"`
	TokensOut int64     `json:"tokens_out"`
	Calls     int64     `json:"calls"`
	Spent     float64   `json:"spent_usd"`
	Budget    float64   `json:"budget_usd"`
	Remaining float64   `json:"remaining_usd"`
}

// Usage snapshots a user's ledger for month ("" means the current month).
func (g *Guard) Usage(ctx context.Context, userID uuid.UUID, month string) (MonthlyUsage, error) {
	if month == "" {
		month = billing.MonthKey(g.now())
	}
	row, err := g.ledger.Get(dbctx.Context{Ctx: ctx}, userID, month)
	if err != nil {
		return MonthlyUsage{}, err
	}
	remaining := g.cfg.MonthlyBudgetUSD - row.EstimatedCost
	if remaining < 0 {
		remaining = 0
	}
	return MonthlyUsage{
		UserID:    userID,
		Month:     month,
		TokensIn:  row.TokensIn,
		TokensOut: row.TokensOut,
		Calls:     row.Calls,
		Spent:     row.EstimatedCost,
		Budget:    g.cfg.MonthlyBudgetUSD,
		Remaining: remaining,
	}, nil
}

// Estimate is the projected cost of indexing and summarizing a document.
type Estimate struct {
	TotalWords         int     `json:"total_words"`
	EmbeddingTokens    int     `json:"embedding_tokens"`
	EmbeddingCost      float64 `json:"embedding_cost"`
	SynthesisTokensIn  int     `json:"synthesis_tokens_in"`
	SynthesisTokensOut int     `json:"synthesis_tokens_out"`
	SynthesisCost      float64 `json:"synthesis_cost"`
	TotalCost          float64 `json:"total_cost"`
}

const narrowChunkBudget = 15

func (g *Guard) EstimateDocument(totalWords int, tpl *types.Template) Estimate {
	docTokens := wordsToTokens(totalWords)
	est := Estimate{TotalWords: totalWords, EmbeddingTokens: docTokens}
	strategy := types.Strategy{}
	if tpl != nil {
		strategy = tpl.Strategy.Data()
	}
	est.EmbeddingCost = g.cfg.Prices.Cost(Usage{Kind: KindEmbedding, Model: strategy.EmbeddingModel, TokensIn: docTokens})

	if tpl != nil {
		narrowTokens := wordsToTokens(narrowChunkBudget * max(strategy.ChunkSize, 1))
		for _, s := range tpl.Sections {
			in := docTokens
			if s.Narrow() && narrowTokens < in {
				in = narrowTokens
			}
			out := strategy.MaxTokensPerSection
			if s.TargetWords > 0 && wordsToTokens(s.TargetWords) < out {
				out = wordsToTokens(s.TargetWords)
			}
			est.SynthesisTokensIn += in
			est.SynthesisTokensOut += out
		}
	}
	est.SynthesisCost = g.cfg.Prices.Cost(Usage{
		Kind:      KindCompletion,
		Model:     strategy.SummarizationModel,
		TokensIn:  est.SynthesisTokensIn,
		TokensOut: est.SynthesisTokensOut,
	})
	est.TotalCost = est.EmbeddingCost + est.SynthesisCost
	return est
}

func wordsToTokens(words int) int {
	return (words*13 + 9) / 10
}
