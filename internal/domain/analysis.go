package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EngineVersion is stamped on every processing result.
const EngineVersion = "1.2.0"

// PhaseResult is the outcome of one eligibility phase.
type PhaseResult struct {
	Eligible bool     `json:"eligible"`
	Reasons  []string `json:"reasons"`
}

// AddonOutcome records one addon rule attempt.
type AddonOutcome struct {
	RuleID          string        `json:"addonRuleId"`
	Name            string        `json:"addonName"`
	Applied         bool          `json:"applied"`
	Reason          string        `json:"reason"`
	MatchedMapping  *AddonMapping `json:"matchingMapping,omitempty"`
	TriggerEligible bool          `json:"triggerEligible"`
	PayoutEligible  bool          `json:"payoutEligible"`
	OverrideLogic   string        `json:"overrideLogic,omitempty"`
}

// ContractAnalysis is the evaluation of one record against one contract.
type ContractAnalysis struct {
	DocumentID   string `json:"documentId"`
	DocumentName string `json:"documentName"`
	RulesetID    string `json:"rulesetId"`
	SourceName   string `json:"sourceName"`
	ContractID   string `json:"contractId"`
	ContractName string `json:"contractName"`
	RuleID       string `json:"ruleId"`

	StartDate   Date   `json:"startDate"`
	EndDate     Date   `json:"endDate"`
	Currency    string `json:"currency,omitempty"`
	CreatedDate Date   `json:"createdDate,omitempty"`
	UpdatedDate Date   `json:"updatedDate,omitempty"`

	SectorEligible  bool   `json:"sectorEligibility"`
	SectorReason    string `json:"sectorEligibilityReason"`
	TriggerEligible bool   `json:"triggerEligibility"`
	TriggerReason   string `json:"triggerEligibilityReason"`
	PayoutEligible  bool   `json:"payoutEligibility"`
	PayoutReason    string `json:"payoutEligibilityReason"`

	TriggerValue   decimal.Decimal `json:"triggerValue"`
	PayoutValue    decimal.Decimal `json:"payoutValue"`
	TriggerFormula string          `json:"triggerFormula"`
	PayoutFormula  string          `json:"payoutFormula"`

	TriggerRevenue decimal.Decimal `json:"triggerConsideredRevenue"`
	PayoutRevenue  decimal.Decimal `json:"payoutConsideredRevenue"`

	Addons []AddonOutcome `json:"addonOutcomes,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ProcessingResult is the evaluation of one record against the contract set.
type ProcessingResult struct {
	ID                      string             `json:"id"`
	RecordKey               string             `json:"recordKey"`
	Record                  *Record            `json:"record,omitempty"`
	AirlineEligibility      bool               `json:"airlineEligibility"`
	Analyses                []ContractAnalysis `json:"contractAnalyses"`
	ProcessedAt             time.Time          `json:"processedAt"`
	ProcessingTimeMs        int64              `json:"processingTimeMs"`
	TotalContractsProcessed int                `json:"totalContractsProcessed"`
	EligibleContracts       int                `json:"eligibleContracts"`
	EngineVersion           string             `json:"engineVersion"`
}

// TotalPayout sums payout values of payout-eligible analyses.
func (r *ProcessingResult) TotalPayout() decimal.Decimal {
	total := decimal.Zero
	for _, a := range r.Analyses {
		if a.PayoutEligible {
			total = total.Add(a.PayoutValue)
		}
	}
	return total
}

// AnyPayoutEligible reports whether at least one contract pays out.
func (r *ProcessingResult) AnyPayoutEligible() bool {
	for _, a := range r.Analyses {
		if a.PayoutEligible {
			return true
		}
	}
	return false
}
