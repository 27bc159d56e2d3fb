package features

// Feature names used by the default tender model.
const (
	SingleBidder       = "single_bidder"
	NumBidders         = "num_bidders"
	PriceAnomaly       = "price_anomaly"
	PriceExactMatch    = "price_exact_match"
	ShortDeadline      = "short_deadline"
	RepeatWinner       = "repeat_winner"
	WinnerMarketShare  = "winner_market_share"
	ContractSplitting  = "contract_splitting"
	AmendmentInflation = "amendment_inflation"
	RelatedCompanies   = "related_companies"
	IdenticalBids      = "identical_bids"
	BidRotation        = "bid_rotation"
	DeadlineDays       = "deadline_days"
	ProcedureType      = "procedure_type"
	EstimatedValueMKD  = "estimated_value_mkd"
)

// bidderEffort scores adding bidders: a couple more is realistic, ten more is not.
var bidderEffort = []EffortTier{
	{MaxDelta: 2, Score: 0.9},
	{MaxDelta: 5, Score: 0.7},
	{MaxDelta: 10, Score: 0.5},
}

// DefaultDefinitions returns the tender feature table.
func DefaultDefinitions() []Definition {
	flag := func(name string) Definition {
		return Definition{Name: name, Kind: Binary, Mutable: true, Direction: DirectionDecrease}
	}
	return []Definition{
		flag(SingleBidder),
		flag(PriceExactMatch),
		flag(ShortDeadline),
		flag(RepeatWinner),
		flag(ContractSplitting),
		flag(RelatedCompanies),
		flag(IdenticalBids),
		flag(BidRotation),
		{
			Name: NumBidders, Kind: Integer, Mutable: true,
			Range: Range{Min: 0, Max: 20}, Direction: DirectionIncrease,
			EffortTiers: bidderEffort, FallbackEffort: 0.3,
		},
		{Name: DeadlineDays, Kind: Integer, Mutable: true, Range: Range{Min: 0, Max: 90}, Direction: DirectionIncrease},
		{Name: PriceAnomaly, Kind: Continuous, Mutable: true, Range: Range{Min: 0, Max: 100}, Direction: DirectionDecrease},
		{Name: WinnerMarketShare, Kind: Continuous, Mutable: true, Range: Range{Min: 0, Max: 100}, Direction: DirectionDecrease},
		{Name: AmendmentInflation, Kind: Continuous, Mutable: true, Range: Range{Min: 0, Max: 100}, Direction: DirectionDecrease},
		{Name: ProcedureType, Kind: Categorical, Mutable: false, Range: Range{Min: 0, Max: 6}},
		{Name: EstimatedValueMKD, Kind: Continuous, Mutable: false, Range: Range{Min: 0, Max: 1e11}},
	}
}

// DefaultModel returns a fresh model built from DefaultDefinitions.
func DefaultModel() *Model {
	return MustModel(DefaultDefinitions()...)
}
